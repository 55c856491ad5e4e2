package domain

import "sort"

// Channel names as they appear in checkpoint channel versions.
const (
	ChannelRFPDocument       = "rfpDocument"
	ChannelResearch          = "research"
	ChannelSolution          = "solution"
	ChannelConnections       = "connections"
	ChannelSections          = "sections"
	ChannelMessages          = "messages"
	ChannelErrors            = "errors"
	ChannelInterruptStatus   = "interruptStatus"
	ChannelInterruptMetadata = "interruptMetadata"
	ChannelUserFeedback      = "userFeedback"
	ChannelStatus            = "status"
	ChannelCurrentStep       = "currentStep"
	ChannelBarriers          = "barriers"
	ChannelCompleted         = "completed"
	ChannelExtra             = "extra"
)

// Update is a partial write to a WorkflowState. Zero-valued fields are not
// written. The Clear* flags exist for channels whose empty value is meaningful.
type Update struct {
	RFPDocument            *Document            `json:"rfpDocument,omitempty"`
	Research               *Result              `json:"research,omitempty"`
	Solution               *Result              `json:"solution,omitempty"`
	Connections            *Result              `json:"connections,omitempty"`
	Sections               map[string]Section   `json:"sections,omitempty"`
	Messages               []Message            `json:"messages,omitempty"`
	Errors                 []string             `json:"errors,omitempty"`
	InterruptStatus        *InterruptStatus     `json:"interruptStatus,omitempty"`
	InterruptMetadata      *InterruptMetadata   `json:"interruptMetadata,omitempty"`
	ClearInterruptMetadata bool                 `json:"clearInterruptMetadata,omitempty"`
	UserFeedback           *Feedback            `json:"userFeedback,omitempty"`
	ClearUserFeedback      bool                 `json:"clearUserFeedback,omitempty"`
	Status                 WorkflowStatus       `json:"status,omitempty"`
	CurrentStep            string               `json:"currentStep,omitempty"`
	Barriers               map[string][]string  `json:"barriers,omitempty"`
	ResetBarriers          []string             `json:"resetBarriers,omitempty"`
	Completed              []string             `json:"completed,omitempty"`
	Extra                  map[string]any       `json:"extra,omitempty"`
}

// IsEmpty reports whether the update writes nothing.
func (u *Update) IsEmpty() bool {
	if u == nil {
		return true
	}
	return u.RFPDocument == nil && u.Research == nil && u.Solution == nil &&
		u.Connections == nil && len(u.Sections) == 0 && len(u.Messages) == 0 &&
		len(u.Errors) == 0 && u.InterruptStatus == nil && u.InterruptMetadata == nil &&
		!u.ClearInterruptMetadata && u.UserFeedback == nil && !u.ClearUserFeedback &&
		u.Status == "" && u.CurrentStep == "" && len(u.Barriers) == 0 &&
		len(u.ResetBarriers) == 0 && len(u.Completed) == 0 && len(u.Extra) == 0
}

// Merge folds other into u so that applying the result equals applying u then
// other. Used to combine a node's output with the executor's bookkeeping.
func (u *Update) Merge(other *Update) {
	if other == nil {
		return
	}
	if other.RFPDocument != nil {
		u.RFPDocument = other.RFPDocument
	}
	if other.Research != nil {
		u.Research = other.Research
	}
	if other.Solution != nil {
		u.Solution = other.Solution
	}
	if other.Connections != nil {
		u.Connections = other.Connections
	}
	if len(other.Sections) > 0 {
		if u.Sections == nil {
			u.Sections = make(map[string]Section, len(other.Sections))
		}
		for id, s := range other.Sections {
			u.Sections[id] = s
		}
	}
	u.Messages = append(u.Messages, other.Messages...)
	u.Errors = append(u.Errors, other.Errors...)
	if other.InterruptStatus != nil {
		u.InterruptStatus = other.InterruptStatus
	}
	if other.InterruptMetadata != nil {
		u.InterruptMetadata = other.InterruptMetadata
		u.ClearInterruptMetadata = false
	}
	if other.ClearInterruptMetadata {
		u.InterruptMetadata = nil
		u.ClearInterruptMetadata = true
	}
	if other.UserFeedback != nil {
		u.UserFeedback = other.UserFeedback
		u.ClearUserFeedback = false
	}
	if other.ClearUserFeedback {
		u.UserFeedback = nil
		u.ClearUserFeedback = true
	}
	if other.Status != "" {
		u.Status = other.Status
	}
	if other.CurrentStep != "" {
		u.CurrentStep = other.CurrentStep
	}
	// a reset followed by new arrivals must keep the arrivals
	for _, join := range other.ResetBarriers {
		delete(u.Barriers, join)
		u.ResetBarriers = appendUnique(u.ResetBarriers, join)
	}
	for join, members := range other.Barriers {
		if u.Barriers == nil {
			u.Barriers = make(map[string][]string)
		}
		for _, m := range members {
			u.Barriers[join] = appendUnique(u.Barriers[join], m)
		}
	}
	u.Completed = append(u.Completed, other.Completed...)
	if len(other.Extra) > 0 {
		if u.Extra == nil {
			u.Extra = make(map[string]any, len(other.Extra))
		}
		for k, v := range other.Extra {
			u.Extra[k] = v
		}
	}
}

// Apply merges u into s through the channel reducers and returns the names of
// the channels that were written, in a stable order.
func Apply(s *WorkflowState, u *Update) []string {
	if u == nil {
		return nil
	}
	s.Normalize()
	var written []string

	if u.RFPDocument != nil {
		s.RFPDocument = *u.RFPDocument
		written = append(written, ChannelRFPDocument)
	}
	if u.Research != nil {
		s.Research = *u.Research
		written = append(written, ChannelResearch)
	}
	if u.Solution != nil {
		s.Solution = *u.Solution
		written = append(written, ChannelSolution)
	}
	if u.Connections != nil {
		s.Connections = *u.Connections
		written = append(written, ChannelConnections)
	}
	if len(u.Sections) > 0 {
		reduceSections(s.Sections, u.Sections)
		written = append(written, ChannelSections)
	}
	if len(u.Messages) > 0 {
		s.Messages = append(s.Messages, u.Messages...)
		written = append(written, ChannelMessages)
	}
	if len(u.Errors) > 0 {
		s.Errors = append(s.Errors, u.Errors...)
		written = append(written, ChannelErrors)
	}
	if u.InterruptStatus != nil {
		s.InterruptStatus = *u.InterruptStatus
		written = append(written, ChannelInterruptStatus)
	}
	if u.InterruptMetadata != nil {
		m := *u.InterruptMetadata
		s.InterruptMetadata = &m
		written = append(written, ChannelInterruptMetadata)
	} else if u.ClearInterruptMetadata {
		s.InterruptMetadata = nil
		written = append(written, ChannelInterruptMetadata)
	}
	if u.UserFeedback != nil {
		f := *u.UserFeedback
		s.UserFeedback = &f
		written = append(written, ChannelUserFeedback)
	} else if u.ClearUserFeedback {
		s.UserFeedback = nil
		written = append(written, ChannelUserFeedback)
	}
	if u.Status != "" {
		s.Status = u.Status
		written = append(written, ChannelStatus)
	}
	if u.CurrentStep != "" {
		s.CurrentStep = u.CurrentStep
		written = append(written, ChannelCurrentStep)
	}
	if len(u.ResetBarriers) > 0 || len(u.Barriers) > 0 {
		for _, join := range u.ResetBarriers {
			delete(s.Barriers, join)
		}
		joins := make([]string, 0, len(u.Barriers))
		for join := range u.Barriers {
			joins = append(joins, join)
		}
		sort.Strings(joins)
		for _, join := range joins {
			for _, m := range u.Barriers[join] {
				s.Barriers[join] = appendUnique(s.Barriers[join], m)
			}
		}
		written = append(written, ChannelBarriers)
	}
	if len(u.Completed) > 0 {
		for _, node := range u.Completed {
			s.Completed[node]++
		}
		written = append(written, ChannelCompleted)
	}
	if len(u.Extra) > 0 {
		if s.Extra == nil {
			s.Extra = make(map[string]any, len(u.Extra))
		}
		for k, v := range u.Extra {
			s.Extra[k] = v
		}
		written = append(written, ChannelExtra)
	}
	return written
}

// reduceSections merges by key. An incoming section without a title keeps the
// stored one so generators can write content without restating metadata.
func reduceSections(dst map[string]Section, in map[string]Section) {
	for id, next := range in {
		prev, ok := dst[id]
		if ok {
			if next.Title == "" {
				next.Title = prev.Title
			}
			if next.DependsOn == nil {
				next.DependsOn = prev.DependsOn
			}
		}
		if next.ID == "" {
			next.ID = id
		}
		dst[id] = next
	}
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
