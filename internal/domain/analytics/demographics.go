package analytics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coursehub/learning-analytics/internal/domain/shared"
)

// Distribution maps a category label to a non-negative head count.
type Distribution map[string]int

// Total returns the sum of all counts.
func (d Distribution) Total() int {
	total := 0
	for _, n := range d {
		total += n
	}
	return total
}

// DemographicsSnapshot is a point-in-time audience breakdown of a course.
type DemographicsSnapshot struct {
	CourseID         int64        `json:"course_id"`
	SnapshotDate     time.Time    `json:"snapshot_date"`
	AgeRanges        Distribution `json:"age_ranges"`
	Genders          Distribution `json:"genders"`
	Countries        Distribution `json:"countries"`
	ExperienceLevels Distribution `json:"experience_levels"`
}

// Validate applies the same rules as DecodeSnapshot to an in-memory snapshot.
func (s DemographicsSnapshot) Validate() error {
	dims := map[string]Distribution{
		"age_ranges":        s.AgeRanges,
		"genders":           s.Genders,
		"countries":         s.Countries,
		"experience_levels": s.ExperienceLevels,
	}
	for name, d := range dims {
		for label, n := range d {
			if strings.TrimSpace(label) == "" {
				return shared.WrapError("analytics", "ValidateSnapshot", shared.ErrMalformedSnapshot,
					name, fmt.Errorf("empty label"))
			}
			if n < 0 {
				return shared.WrapError("analytics", "ValidateSnapshot", shared.ErrMalformedSnapshot,
					name, fmt.Errorf("label %q: negative count %d", label, n))
			}
		}
	}
	return nil
}

// RawSnapshot is a snapshot as stored: one JSON document per dimension.
type RawSnapshot struct {
	CourseID         int64
	SnapshotDate     time.Time
	AgeRanges        []byte
	Genders          []byte
	Countries        []byte
	ExperienceLevels []byte
}

// DecodeSnapshot strictly decodes a stored snapshot. Any dimension that is not
// a JSON object of label to non-negative integer rejects the whole snapshot.
func DecodeSnapshot(raw RawSnapshot) (DemographicsSnapshot, error) {
	snap := DemographicsSnapshot{CourseID: raw.CourseID, SnapshotDate: raw.SnapshotDate}

	dims := []struct {
		name string
		data []byte
		dst  *Distribution
	}{
		{"age_ranges", raw.AgeRanges, &snap.AgeRanges},
		{"genders", raw.Genders, &snap.Genders},
		{"countries", raw.Countries, &snap.Countries},
		{"experience_levels", raw.ExperienceLevels, &snap.ExperienceLevels},
	}
	for _, dim := range dims {
		d, err := decodeDistribution(dim.data)
		if err != nil {
			return DemographicsSnapshot{}, shared.WrapError("analytics", "DecodeSnapshot",
				shared.ErrMalformedSnapshot, dim.name, err)
		}
		*dim.dst = d
	}
	return snap, nil
}

func decodeDistribution(data []byte) (Distribution, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("missing distribution")
	}

	var raw map[string]json.Number
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("not a label to count object: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after distribution")
	}

	d := make(Distribution, len(raw))
	for label, num := range raw {
		if strings.TrimSpace(label) == "" {
			return nil, fmt.Errorf("empty label")
		}
		n, err := num.Int64()
		if err != nil {
			return nil, fmt.Errorf("label %q: count %q is not an integer", label, num.String())
		}
		if n < 0 {
			return nil, fmt.Errorf("label %q: negative count %d", label, n)
		}
		d[label] = int(n)
	}
	return d, nil
}

// EncodeDistribution renders a distribution for storage.
func EncodeDistribution(d Distribution) ([]byte, error) {
	if d == nil {
		d = Distribution{}
	}
	return json.Marshal(d)
}
