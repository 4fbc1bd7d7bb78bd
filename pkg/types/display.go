package types

// CreateDisplayRequest allocates a display slot by explicit number or by
// fixed panel index.
type CreateDisplayRequest struct {
	DisplayNum *int `json:"display_num,omitempty"`
	PanelIndex *int `json:"panel_index,omitempty"`
	Width      int  `json:"width,omitempty"`  // default 1280
	Height     int  `json:"height,omitempty"` // default 800
}

// DisplayInfo describes a running display slot.
type DisplayInfo struct {
	DisplayNum int    `json:"display_num"`
	PanelIndex int    `json:"panel_index"`
	Display    string `json:"display"`
	VNCPort    int    `json:"vnc_port"`
	WSPort     int    `json:"ws_port"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// CreateDisplayResponse reports the slot and whether this call started
// the pipeline (false when an identical running slot was reused).
type CreateDisplayResponse struct {
	Status  string      `json:"status"`
	Created bool        `json:"created"`
	Display DisplayInfo `json:"display"`
}

// DisplayList is the response for listing display slots.
type DisplayList struct {
	Displays []DisplayInfo `json:"displays"`
	Count    int           `json:"count"`
}

// DisplayEnvResponse carries the shell-exportable binding environment.
type DisplayEnvResponse struct {
	DisplayNum    int               `json:"display_num"`
	Env           map[string]string `json:"env"`
	Unset         []string          `json:"unset"`
	ExportCommand string            `json:"export_command"`
}

// ResizeDisplayRequest restarts a display at a new geometry.
type ResizeDisplayRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}
