package adminapi

import (
	"github.com/gin-gonic/gin"

	"github.com/rapidaai/sonorad/pkg/core"
	"github.com/rapidaai/sonorad/pkg/types"
)

type sinkView struct {
	Index           uint32         `json:"index"`
	Name            string         `json:"name"`
	State           string         `json:"state"`
	Spec            string         `json:"spec"`
	ReferenceVolume types.CVolume  `json:"referenceVolume"`
	RealVolume      types.CVolume  `json:"realVolume"`
	Muted           bool           `json:"muted"`
	FlatVolume      bool           `json:"flatVolume"`
	MonitorIndex    *uint32        `json:"monitorIndex,omitempty"`
}

func toSinkView(s *core.Sink) sinkView {
	v := sinkView{
		Index:           s.Index,
		Name:            s.Name,
		State:           s.State().String(),
		Spec:            s.Spec.String(),
		ReferenceVolume: s.ReferenceVolume,
		RealVolume:      s.RealVolume,
		Muted:           s.Muted,
		FlatVolume:      s.FlatVolume,
	}
	if s.Monitor != nil {
		idx := s.Monitor.Index
		v.MonitorIndex = &idx
	}
	return v
}

type sourceView struct {
	Index           uint32        `json:"index"`
	Name            string        `json:"name"`
	State           string        `json:"state"`
	Spec            string        `json:"spec"`
	ReferenceVolume types.CVolume `json:"referenceVolume"`
	RealVolume      types.CVolume `json:"realVolume"`
	Muted           bool          `json:"muted"`
}

func toSourceView(s *core.Source) sourceView {
	return sourceView{
		Index:           s.Index,
		Name:            s.Name,
		State:           s.State().String(),
		Spec:            s.Spec.String(),
		ReferenceVolume: s.ReferenceVolume,
		RealVolume:      s.RealVolume,
		Muted:           s.Muted,
	}
}

type sinkInputView struct {
	Index    uint32        `json:"index"`
	Name     string        `json:"name"`
	State    string        `json:"state"`
	SinkIdx  *uint32       `json:"sinkIndex,omitempty"`
	Volume   types.CVolume `json:"volume"`
	Muted    bool          `json:"muted"`
}

func toSinkInputView(in *core.SinkInput) sinkInputView {
	v := sinkInputView{
		Index:  in.Index,
		Name:   in.Name,
		State:  in.State().String(),
		Volume: in.Volume,
		Muted:  in.Muted,
	}
	if sink := in.Sink(); sink != nil {
		idx := sink.Index
		v.SinkIdx = &idx
	}
	return v
}

type sourceOutputView struct {
	Index     uint32        `json:"index"`
	Name      string        `json:"name"`
	State     string        `json:"state"`
	SourceIdx *uint32       `json:"sourceIndex,omitempty"`
	Volume    types.CVolume `json:"volume"`
	Muted     bool          `json:"muted"`
}

func toSourceOutputView(o *core.SourceOutput) sourceOutputView {
	v := sourceOutputView{
		Index:  o.Index,
		Name:   o.Name,
		State:  o.State().String(),
		Volume: o.Volume,
		Muted:  o.Muted,
	}
	if src := o.Source(); src != nil {
		idx := src.Index
		v.SourceIdx = &idx
	}
	return v
}

func (s *Server) listSinks(c *gin.Context) {
	var out []sinkView
	s.core.EachSink(func(sk *core.Sink) { out = append(out, toSinkView(sk)) })
	c.JSON(200, out)
}

func (s *Server) listSources(c *gin.Context) {
	var out []sourceView
	s.core.EachSource(func(src *core.Source) { out = append(out, toSourceView(src)) })
	c.JSON(200, out)
}

func (s *Server) listSinkInputs(c *gin.Context) {
	var out []sinkInputView
	s.core.EachSinkInput(func(in *core.SinkInput) { out = append(out, toSinkInputView(in)) })
	c.JSON(200, out)
}

func (s *Server) listSourceOutputs(c *gin.Context) {
	var out []sourceOutputView
	s.core.EachSourceOutput(func(o *core.SourceOutput) { out = append(out, toSourceOutputView(o)) })
	c.JSON(200, out)
}
