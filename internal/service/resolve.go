package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/phlag/phlagd/internal/core"
	"github.com/phlag/phlagd/internal/repository"
)

// FlagState is one flag's evaluated value in an environment together with
// the activation window it was evaluated under, as exposed on the detailed
// read endpoint. Window bounds are RFC3339 strings or null.
type FlagState struct {
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	Value         core.Value `json:"value"`
	StartDatetime *string    `json:"start_datetime"`
	EndDatetime   *string    `json:"end_datetime"`
}

// ResolveValue evaluates a single flag in the named environment. An unknown
// flag name resolves to the null value rather than an error so that callers
// can ship flag checks ahead of flag creation.
func (s *Service) ResolveValue(ctx context.Context, envName, flagName string) (core.Value, error) {
	env, err := s.environmentByName(ctx, envName)
	if err != nil {
		return core.Null(), err
	}

	flag, err := s.repo.GetFlag(ctx, flagName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.recordResult(core.KindNull)
			return core.Null(), nil
		}
		return core.Null(), fmt.Errorf("get flag: %w", err)
	}

	state, err := s.environmentState(ctx, flag.ID, env.ID)
	if err != nil {
		return core.Null(), err
	}

	return s.evaluate(flag, state), nil
}

// ResolveAll evaluates every flag in the named environment. The result maps
// flag name to its typed value; every flag appears, unconfigured ones as
// null.
func (s *Service) ResolveAll(ctx context.Context, envName string) (map[string]core.Value, error) {
	flags, states, err := s.loadEnvironment(ctx, envName)
	if err != nil {
		return nil, err
	}

	values := make(map[string]core.Value, len(flags))
	for _, flag := range flags {
		values[flag.Name] = s.evaluate(flag, states[flag.ID])
	}

	return values, nil
}

// ResolveDetailed evaluates every flag in the named environment and returns
// each flag's value alongside its activation window, ordered by flag name.
func (s *Service) ResolveDetailed(ctx context.Context, envName string) ([]FlagState, error) {
	flags, states, err := s.loadEnvironment(ctx, envName)
	if err != nil {
		return nil, err
	}

	detailed := make([]FlagState, 0, len(flags))
	for _, flag := range flags {
		state := states[flag.ID]

		flagState := FlagState{
			Name:  flag.Name,
			Type:  flag.Type,
			Value: s.evaluate(flag, state),
		}
		if state != nil {
			flagState.StartDatetime = formatTimestamp(state.StartDatetime)
			flagState.EndDatetime = formatTimestamp(state.EndDatetime)
		}

		detailed = append(detailed, flagState)
	}

	return detailed, nil
}

// loadEnvironment fetches all flags plus the named environment's configured
// values, keyed by flag ID. Flags without a row stay absent from the map and
// evaluate as not configured.
func (s *Service) loadEnvironment(ctx context.Context, envName string) ([]repository.Flag, map[string]*core.EnvironmentState, error) {
	env, err := s.environmentByName(ctx, envName)
	if err != nil {
		return nil, nil, err
	}

	flags, err := s.repo.ListFlags(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list flags: %w", err)
	}

	values, err := s.repo.ListEnvironmentValuesForEnvironment(ctx, env.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list environment values: %w", err)
	}

	states := make(map[string]*core.EnvironmentState, len(values))
	for _, value := range values {
		states[value.FlagID] = &core.EnvironmentState{
			Value:         value.Value,
			StartDatetime: value.StartDatetime,
			EndDatetime:   value.EndDatetime,
		}
	}

	return flags, states, nil
}

func (s *Service) environmentState(ctx context.Context, flagID, environmentID string) (*core.EnvironmentState, error) {
	value, err := s.repo.GetEnvironmentValue(ctx, flagID, environmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get environment value: %w", err)
	}

	return &core.EnvironmentState{
		Value:         value.Value,
		StartDatetime: value.StartDatetime,
		EndDatetime:   value.EndDatetime,
	}, nil
}

func (s *Service) evaluate(flag repository.Flag, state *core.EnvironmentState) core.Value {
	value := core.Evaluate(core.FlagType(flag.Type), state, s.now())
	s.recordResult(value.Kind())
	return value
}

func (s *Service) recordResult(kind core.Kind) {
	if s.recordEvaluation != nil {
		s.recordEvaluation(kind.String())
	}
}

func formatTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format(time.RFC3339)
	return &formatted
}
