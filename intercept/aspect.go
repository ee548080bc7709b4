package intercept

import (
	"context"
	"fmt"
	"reflect"
)

// Stage identifies one of the seven points at which aspects run.
type Stage int

const (
	StageBeforeResolvingInstance Stage = iota + 1
	StageBeforeMethodExec
	StageAfterSuccess
	StageAfterException
	StageFinally
	StageAfterInstanceCleanup
	StageDone
)

const stageCount = int(StageDone)

// AllStages lists every stage in protocol order.
func AllStages() []Stage {
	return []Stage{
		StageBeforeResolvingInstance,
		StageBeforeMethodExec,
		StageAfterSuccess,
		StageAfterException,
		StageFinally,
		StageAfterInstanceCleanup,
		StageDone,
	}
}

func (s Stage) String() string {
	switch s {
	case StageBeforeResolvingInstance:
		return "BeforeResolvingInstance"
	case StageBeforeMethodExec:
		return "BeforeMethodExec"
	case StageAfterSuccess:
		return "AfterSuccess"
	case StageAfterException:
		return "AfterException"
	case StageFinally:
		return "Finally"
	case StageAfterInstanceCleanup:
		return "AfterInstanceCleanup"
	case StageDone:
		return "Done"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Handler is run by the pipeline at a stage. Errors returned from stages
// 1 to 3 fail the attempt; later stages log and discard them.
type Handler func(ctx context.Context, ac *AspectContext) error

// Stages maps a stage to its handler. Missing stages are no-ops.
type Stages map[Stage]Handler

// Aspect is a cross-cutting behavior plugged into a pipeline.
type Aspect interface {
	Name() string
	Stages() Stages
}

type funcAspect struct {
	name   string
	stages Stages
}

func (a *funcAspect) Name() string   { return a.name }
func (a *funcAspect) Stages() Stages { return a.stages }

// StageOption registers a handler on an ad-hoc aspect.
type StageOption func(Stages)

// On binds h to stage.
func On(stage Stage, h Handler) StageOption {
	return func(s Stages) {
		s[stage] = h
	}
}

// NewAspect builds an aspect from individual stage handlers.
func NewAspect(name string, opts ...StageOption) Aspect {
	stages := make(Stages, len(opts))
	for _, opt := range opts {
		opt(stages)
	}
	return &funcAspect{name: name, stages: stages}
}

// Profile is a named aspect list resolved per run, so stateful aspects
// can be created fresh for every call.
type Profile struct {
	Name    string
	Aspects func() []Aspect
}

// StaticProfile wraps a fixed aspect list.
func StaticProfile(name string, aspects ...Aspect) Profile {
	list := append([]Aspect(nil), aspects...)
	return Profile{
		Name:    name,
		Aspects: func() []Aspect { return list },
	}
}

// Union appends extra to base, skipping aspects already present.
func Union(base []Aspect, extra ...Aspect) []Aspect {
	out := make([]Aspect, 0, len(base)+len(extra))
	out = append(out, base...)
	for _, a := range extra {
		if a == nil || containsAspect(out, a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func containsAspect(list []Aspect, a Aspect) bool {
	if !reflect.TypeOf(a).Comparable() {
		return false
	}
	for _, existing := range list {
		if reflect.TypeOf(existing) == reflect.TypeOf(a) && existing == a {
			return true
		}
	}
	return false
}

type boundHandler struct {
	aspect  string
	handler Handler
}

type dispatchTable [stageCount + 1][]boundHandler

func compile(aspects []Aspect) *dispatchTable {
	var table dispatchTable
	for _, a := range aspects {
		if a == nil {
			continue
		}
		for stage, h := range a.Stages() {
			if h == nil || stage < StageBeforeResolvingInstance || stage > StageDone {
				continue
			}
			table[stage] = append(table[stage], boundHandler{aspect: a.Name(), handler: h})
		}
	}
	return &table
}
