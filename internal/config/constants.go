package config

// Data directory layout
const (
	DefaultDataDirName = ".meeting-pilot"
	RecordingsDirName  = "recordings"
	StoreFileName      = "history.json"
)
