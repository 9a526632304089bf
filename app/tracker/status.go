package tracker

import "github.com/umputun/jobtrack/app/enums"

// Info describes how a status is presented
type Info struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

// StatusEntry pairs a status with its presentation
type StatusEntry struct {
	Status enums.Status `json:"status"`
	Info
}

var statusTable = map[enums.Status]Info{
	enums.StatusSaved:     {Label: "Saved", Icon: "💾", Color: "#6b7280"},
	enums.StatusApplied:   {Label: "Applied", Icon: "✅", Color: "#22c55e"},
	enums.StatusInterview: {Label: "Interview", Icon: "📞", Color: "#3b82f6"},
	enums.StatusOffer:     {Label: "Offer", Icon: "🎉", Color: "#a855f7"},
	enums.StatusRejected:  {Label: "Rejected", Icon: "❌", Color: "#ef4444"},
}

// StatusInfo returns presentation of a raw status value. Unrecognized values get
// the raw string as a label with the default icon and color.
func StatusInfo(status string) Info {
	if st, err := enums.ParseStatus(status); err == nil {
		return statusTable[st]
	}
	return Info{Label: status, Icon: "❓", Color: "#6b7280"}
}

// Statuses returns all statuses with presentation, in workflow order
func Statuses() []StatusEntry {
	res := make([]StatusEntry, 0, len(enums.StatusValues))
	for _, st := range enums.StatusValues {
		res = append(res, StatusEntry{Status: st, Info: statusTable[st]})
	}
	return res
}
