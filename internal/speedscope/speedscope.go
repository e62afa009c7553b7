package speedscope

import (
	"fmt"
	"sort"

	"github.com/getsentry/calltrace/internal/calltree"
	"github.com/getsentry/calltrace/internal/method"
	"github.com/getsentry/calltrace/internal/profile"
)

const (
	Schema = "https://www.speedscope.app/file-format-schema.json"

	ValueUnitNanoseconds ValueUnit = "nanoseconds"
	ValueUnitCount       ValueUnit = "count"

	ProfileTypeSampled ProfileType = "sampled"

	exporter = "calltrace"
)

type (
	Frame struct {
		File          string `json:"file,omitempty"`
		Image         string `json:"image,omitempty"`
		IsApplication bool   `json:"is_application"`
		Line          uint32 `json:"line,omitempty"`
		Name          string `json:"name"`
	}

	SampledProfile struct {
		EndValue     uint64      `json:"endValue"`
		IsMainThread bool        `json:"isMainThread"`
		Name         string      `json:"name"`
		Samples      [][]int     `json:"samples"`
		StartValue   uint64      `json:"startValue"`
		Type         ProfileType `json:"type"`
		Unit         ValueUnit   `json:"unit"`
		Weights      []uint64    `json:"weights"`
	}

	SharedData struct {
		Frames []Frame `json:"frames"`
	}

	ProfileType string
	ValueUnit   string

	Output struct {
		Schema             string           `json:"$schema"`
		ActiveProfileIndex int              `json:"activeProfileIndex"`
		Exporter           string           `json:"exporter"`
		Name               string           `json:"name"`
		ProfileID          string           `json:"profileID"`
		Profiles           []SampledProfile `json:"profiles"`
		Shared             SharedData       `json:"shared"`
	}

	// exporter state shared by all the sessions of a container.
	converter struct {
		registry    *method.Registry
		frames      []Frame
		framesIndex map[method.ID]int
	}
)

// FromContainer turns each session of c into a sampled profile. Every node
// spending time of its own becomes a sample whose stack is the path from
// the root and whose weight is that own time, in nanoseconds.
func FromContainer(c *profile.Container) (Output, error) {
	conv := &converter{
		registry:    c.Registry,
		framesIndex: make(map[method.ID]int),
	}
	o := Output{
		Schema:    Schema,
		Exporter:  exporter,
		Name:      c.Description(),
		ProfileID: c.ID,
		Profiles:  make([]SampledProfile, 0, len(c.Sessions)),
	}
	for _, s := range c.Sessions {
		p, err := conv.sampledProfile(s)
		if err != nil {
			return Output{}, err
		}
		o.Profiles = append(o.Profiles, p)
	}
	if o.Name == "" {
		o.Name = c.ID
	}
	o.Shared.Frames = conv.frames
	return o, nil
}

func (conv *converter) sampledProfile(s *profile.Session) (SampledProfile, error) {
	p := SampledProfile{
		Name:    s.ThreadName,
		Type:    ProfileTypeSampled,
		Unit:    ValueUnitNanoseconds,
		Samples: make([][]int, 0),
		Weights: make([]uint64, 0),
	}
	t := s.Tree
	if t.Empty() {
		return p, nil
	}
	stack := make([]int, 0, t.MaxDepth(t.Root())+1)
	if err := conv.visitCalltree(t, t.Root(), &stack, &p); err != nil {
		return SampledProfile{}, err
	}
	return p, nil
}

func (conv *converter) visitCalltree(t *calltree.Tree, n calltree.NodeID, currentStack *[]int, p *SampledProfile) error {
	i, err := conv.frameIndex(t.Node(n).MethodID)
	if err != nil {
		return err
	}
	*currentStack = append(*currentStack, i)

	if own := t.OwnTime(n); own > 0 {
		cp := make([]int, len(*currentStack))
		copy(cp, *currentStack)
		weight := uint64(own * 1e6)
		p.Samples = append(p.Samples, cp)
		p.Weights = append(p.Weights, weight)
		p.EndValue += weight
	}
	for _, c := range t.Children(n) {
		if err := conv.visitCalltree(t, c, currentStack, p); err != nil {
			return err
		}
	}

	// pop last element before returning
	*currentStack = (*currentStack)[:len(*currentStack)-1]
	return nil
}

func (conv *converter) frameIndex(id method.ID) (int, error) {
	if i, exists := conv.framesIndex[id]; exists {
		return i, nil
	}
	identity, err := conv.registry.Resolve(id)
	if err != nil {
		return 0, fmt.Errorf("speedscope: %w", err)
	}
	i := len(conv.frames)
	conv.frames = append(conv.frames, Frame{
		Name:          identity.SimpleClassName() + "." + identity.DisplayMethodName() + identity.Signature,
		Image:         identity.DisplayClassName(),
		Line:          identity.Line,
		IsApplication: true,
	})
	conv.framesIndex[id] = i
	return i, nil
}

// SortSamplesForFlamegraph orders the samples of every profile by frame
// name so identical stacks end up next to each other, keeping each weight
// with its sample.
func (o *Output) SortSamplesForFlamegraph() {
	frames := o.Shared.Frames
	for i := range o.Profiles {
		p := &o.Profiles[i]
		order := make([]int, len(p.Samples))
		for j := range order {
			order[j] = j
		}
		sort.SliceStable(order, func(a, b int) bool {
			return lessStack(p.Samples[order[a]], p.Samples[order[b]], frames)
		})
		samples := make([][]int, len(order))
		weights := make([]uint64, len(order))
		for j, k := range order {
			samples[j] = p.Samples[k]
			weights[j] = p.Weights[k]
		}
		p.Samples, p.Weights = samples, weights
	}
}

func SortSamplesAlphabetically(samples [][]int, frames []Frame) {
	sort.Slice(samples, func(i, j int) bool {
		return lessStack(samples[i], samples[j], frames)
	})
}

func lessStack(a, b []int, frames []Frame) bool {
	c := 0
	for {
		if len(a) == c {
			return c < len(b)
		} else if len(b) == c {
			return false
		} else {
			if frames[a[c]].Name < frames[b[c]].Name {
				return true
			} else if frames[a[c]].Name > frames[b[c]].Name {
				return false
			} else {
				c += 1
			}
		}
	}
}
