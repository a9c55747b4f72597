package core

import (
	"reflect"
	"testing"
	"time"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	pastWindow := &EnvironmentState{
		Value:       strPtr("true"),
		EndDatetime: timePtr(now.Add(-time.Hour)),
	}

	tests := []struct {
		name     string
		flagType FlagType
		state    *EnvironmentState
		want     any
	}{
		{
			name:     "not configured is null even for switch",
			flagType: TypeSwitch,
			want:     nil,
		},
		{
			name:     "not configured is null for integer",
			flagType: TypeInteger,
			want:     nil,
		},
		{
			name:     "active unbounded window casts value",
			flagType: TypeSwitch,
			state:    &EnvironmentState{Value: strPtr("true")},
			want:     true,
		},
		{
			name:     "inactive window forces switch to false",
			flagType: TypeSwitch,
			state:    pastWindow,
			want:     false,
		},
		{
			name:     "inactive window is null for integer",
			flagType: TypeInteger,
			state: &EnvironmentState{
				Value:       strPtr("100"),
				EndDatetime: timePtr(now.Add(-time.Hour)),
			},
			want: nil,
		},
		{
			name:     "inactive window is null for string",
			flagType: TypeString,
			state: &EnvironmentState{
				Value:         strPtr("text"),
				StartDatetime: timePtr(now.Add(time.Hour)),
			},
			want: nil,
		},
		{
			// Explicitly disabled in an active window is null for every
			// type, including SWITCH. This differs from the inactive-window
			// case on purpose.
			name:     "active window with null value is null for switch",
			flagType: TypeSwitch,
			state:    &EnvironmentState{},
			want:     nil,
		},
		{
			name:     "active window with null value is null for string",
			flagType: TypeString,
			state:    &EnvironmentState{},
			want:     nil,
		},
		{
			name:     "active bounded window casts integer",
			flagType: TypeInteger,
			state: &EnvironmentState{
				Value:         strPtr("-42"),
				StartDatetime: timePtr(now.Add(-time.Hour)),
				EndDatetime:   timePtr(now.Add(time.Hour)),
			},
			want: int64(-42),
		},
		{
			name:     "inclusive start boundary",
			flagType: TypeFloat,
			state: &EnvironmentState{
				Value:         strPtr("2.5"),
				StartDatetime: timePtr(now),
			},
			want: 2.5,
		},
		{
			name:     "inclusive end boundary",
			flagType: TypeString,
			state: &EnvironmentState{
				Value:       strPtr("live"),
				EndDatetime: timePtr(now),
			},
			want: "live",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.flagType, tt.state, now).Interface()
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Evaluate() = %#v, want %#v", got, tt.want)
			}
		})
	}
}
