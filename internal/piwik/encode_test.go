package piwik

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leshachaplin/trackpost/internal/domain"
)

var encodeBase = time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)

func TestEncoder_Params(t *testing.T) {
	hits := 3

	cases := map[string]struct {
		event      domain.TrackedEvent
		wantAction string
		wantExtra  map[string]string
	}{
		"screen with hierarchy": {
			event: domain.TrackedEvent{
				Kind: domain.KindScreen,
				Path: []string{"settings", "profile"},
			},
			wantAction: "screen/settings/profile",
		},
		"event with label": {
			event: domain.TrackedEvent{
				Kind:     domain.KindEvent,
				Category: "media",
				Action:   "play",
				Label:    "intro",
			},
			wantAction: "event/media/play/intro",
		},
		"event without label": {
			event: domain.TrackedEvent{
				Kind:     domain.KindEvent,
				Category: "media",
				Action:   "pause",
			},
			wantAction: "event/media/pause",
		},
		"fatal exception": {
			event: domain.TrackedEvent{
				Kind:        domain.KindException,
				Description: "out of disk",
				Fatal:       true,
			},
			wantAction: "exception/fatal/out of disk",
		},
		"social interaction": {
			event: domain.TrackedEvent{
				Kind:    domain.KindSocial,
				Action:  "like",
				Target:  "photo-42",
				Network: "facebook",
			},
			wantAction: "social/facebook/like/photo-42",
		},
		"goal conversion": {
			event: domain.TrackedEvent{
				Kind:    domain.KindGoal,
				GoalID:  "7",
				Revenue: 250,
			},
			wantExtra: map[string]string{"idgoal": "7", "revenue": "250"},
		},
		"site search": {
			event: domain.TrackedEvent{
				Kind:           domain.KindSearch,
				Keyword:        "espresso",
				SearchCategory: "drinks",
				SearchHits:     &hits,
			},
			wantExtra: map[string]string{
				"search":       "espresso",
				"search_cat":   "drinks",
				"search_count": "3",
			},
		},
	}

	e := NewEncoder("42", "Demo App", true)

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tc.event.CreatedAt = encodeBase
			tc.event.VisitorID = "0123456789abcdef"

			v := e.Params(tc.event)

			require.Equal(t, "42", v.Get("idsite"))
			require.Equal(t, "1", v.Get("rec"))
			require.Equal(t, "0123456789abcdef", v.Get("_id"))
			require.Equal(t, "2024-05-01 12:30:45", v.Get("cdt"))

			if tc.wantAction != "" {
				require.Equal(t, tc.wantAction, v.Get("action_name"))
				require.Equal(t, "http://demo-app/"+tc.wantAction, v.Get("url"))
			}
			for key, want := range tc.wantExtra {
				require.Equal(t, want, v.Get(key), key)
			}
		})
	}
}

func TestEncoder_PrefixingDisabled(t *testing.T) {
	e := NewEncoder("42", "demo", false)

	v := e.Params(domain.TrackedEvent{
		Kind: domain.KindScreen,
		Path: []string{"settings", "profile"},
	})
	require.Equal(t, "settings/profile", v.Get("action_name"))
}

func TestEncoder_NewVisitAndCustomVars(t *testing.T) {
	e := NewEncoder("42", "demo", true)

	v := e.Params(domain.TrackedEvent{
		Kind:     domain.KindScreen,
		Path:     []string{"home"},
		NewVisit: true,
		CustomVars: []domain.CustomVariable{
			{Index: 2, Name: "App name", Value: "demo"},
			{Index: 3, Name: "App version", Value: "1.2.0"},
		},
	})

	require.Equal(t, "1", v.Get("new_visit"))
	require.JSONEq(t, `{"2":["App name","demo"],"3":["App version","1.2.0"]}`, v.Get("_cvar"))
}
