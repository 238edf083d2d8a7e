package tools

// Annotation keys advertised with each tool definition.
const (
	HintReadOnly    = "readOnlyHint"
	HintDestructive = "destructiveHint"
	HintIdempotent  = "idempotentHint"
	HintOpenWorld   = "openWorldHint"
)

// ReadOnlyAnnotations marks a tool that only reads the configured database.
func ReadOnlyAnnotations() map[string]bool {
	return map[string]bool{
		HintReadOnly:    true,
		HintDestructive: false,
		HintIdempotent:  true,
		HintOpenWorld:   false,
	}
}
