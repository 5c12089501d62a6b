package xembed

import (
	"strconv"
	"strings"
	"sync"
)

// ExperienceType enumerates the kinds of embeddable surfaces.
type ExperienceType string

const (
	ExperienceControl       ExperienceType = "CONTROL"
	ExperienceDashboard     ExperienceType = "DASHBOARD"
	ExperienceVisual        ExperienceType = "VISUAL"
	ExperienceConsole       ExperienceType = "CONSOLE"
	ExperienceQSearch       ExperienceType = "QSEARCH"
	ExperienceGenerativeQnA ExperienceType = "GENERATIVEQNA"
)

// Descriptor carries everything that distinguishes one experience from another
// inside an embedding context. It travels on the wire as the event target.
type Descriptor struct {
	ExperienceType ExperienceType `json:"experienceType"`
	DashboardID    string         `json:"dashboardId,omitempty"`
	SheetID        string         `json:"sheetId,omitempty"`
	VisualID       string         `json:"visualId,omitempty"`
	ContextID      string         `json:"contextId,omitempty"`
	Discriminator  int            `json:"discriminator,omitempty"`
}

// ComputeIdentity derives the routing key for a descriptor.
// Empty parts (including a zero discriminator) are skipped.
func ComputeIdentity(d Descriptor) (string, error) {
	parts := []string{d.ContextID, string(d.ExperienceType)}

	switch d.ExperienceType {
	case ExperienceControl, ExperienceConsole, ExperienceQSearch, ExperienceGenerativeQnA:
	case ExperienceDashboard:
		if d.DashboardID == "" {
			return "", ErrUnrecognizedExperience
		}
		parts = append(parts, d.DashboardID)
	case ExperienceVisual:
		if d.DashboardID == "" || d.SheetID == "" || d.VisualID == "" {
			return "", ErrUnrecognizedExperience
		}
		parts = append(parts, d.DashboardID, d.SheetID, d.VisualID)
	default:
		return "", ErrUnrecognizedExperience
	}

	if d.Discriminator != 0 {
		parts = append(parts, strconv.Itoa(d.Discriminator))
	}

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "-"), nil
}

// IdentitySet records every identity minted by one embedding context.
type IdentitySet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewIdentitySet() *IdentitySet {
	return &IdentitySet{ids: make(map[string]struct{})}
}

// Allocate stamps the lowest free discriminator onto d and records the
// resulting identity. Probe and insert happen under one lock.
func (s *IdentitySet) Allocate(d Descriptor) (string, Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for disc := 0; ; disc++ {
		d.Discriminator = disc
		id, err := ComputeIdentity(d)
		if err != nil {
			return "", d, err
		}
		if _, taken := s.ids[id]; taken {
			continue
		}
		s.ids[id] = struct{}{}
		return id, d, nil
	}
}

func (s *IdentitySet) Contains(identity string) bool {
	s.mu.Lock()
	_, ok := s.ids[identity]
	s.mu.Unlock()
	return ok
}

func (s *IdentitySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
