package sidecar

// Model is a Whisper model size the engine can load.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SizeMB      int    `json:"size_mb"`
	Description string `json:"description"`
}

// DefaultModel is used when no model size is configured.
const DefaultModel = "base"

var models = []Model{
	{ID: "tiny", Name: "Tiny", SizeMB: 75, Description: "Fastest, least accurate"},
	{ID: "base", Name: "Base", SizeMB: 142, Description: "Balanced"},
	{ID: "small", Name: "Small", SizeMB: 466, Description: "Good accuracy"},
	{ID: "medium", Name: "Medium", SizeMB: 1500, Description: "High accuracy"},
	{ID: "large-v3", Name: "Large V3", SizeMB: 3000, Description: "Best accuracy"},
}

// Models lists the supported model sizes, smallest first.
func Models() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// KnownModel reports whether id names a catalog entry.
func KnownModel(id string) bool {
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}
