package piwik

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/leshachaplin/trackpost/internal/domain"
)

const (
	prefixScreen    = "screen"
	prefixEvent     = "event"
	prefixException = "exception"
	prefixSocial    = "social"

	pathSeparator = "/"

	timestampFormat = "2006-01-02 15:04:05"
)

// Encoder turns a tracked event into the key/value form of a single analytics
// hit. Hierarchical names are joined with "/" and prefixed per kind unless
// prefixing is disabled.
type Encoder struct {
	siteID    string
	appHost   string
	prefixing bool
}

func NewEncoder(siteID, appName string, prefixing bool) *Encoder {
	host := strings.ToLower(strings.ReplaceAll(appName, " ", "-"))
	if host == "" {
		host = "app"
	}
	return &Encoder{
		siteID:    siteID,
		appHost:   host,
		prefixing: prefixing,
	}
}

// Params encodes one event as the query parameters of a single hit.
func (e *Encoder) Params(event domain.TrackedEvent) url.Values {
	v := url.Values{}
	v.Set("idsite", e.siteID)
	v.Set("rec", "1")
	v.Set("apiv", "1")
	v.Set("_id", event.VisitorID)
	v.Set("cdt", event.CreatedAt.UTC().Format(timestampFormat))
	if event.NewVisit {
		v.Set("new_visit", "1")
	}

	if cvar := encodeCustomVars(event.CustomVars); cvar != "" {
		v.Set("_cvar", cvar)
	}

	switch event.Kind {
	case domain.KindScreen:
		e.setAction(v, prefixScreen, event.Path)
	case domain.KindEvent:
		segments := []string{event.Category, event.Action}
		if event.Label != "" {
			segments = append(segments, event.Label)
		}
		e.setAction(v, prefixEvent, segments)
	case domain.KindException:
		severity := "caught"
		if event.Fatal {
			severity = "fatal"
		}
		e.setAction(v, prefixException, []string{severity, event.Description})
	case domain.KindSocial:
		e.setAction(v, prefixSocial, []string{event.Network, event.Action, event.Target})
	case domain.KindGoal:
		v.Set("idgoal", event.GoalID)
		v.Set("revenue", strconv.FormatUint(event.Revenue, 10))
	case domain.KindSearch:
		v.Set("search", event.Keyword)
		if event.SearchCategory != "" {
			v.Set("search_cat", event.SearchCategory)
		}
		if event.SearchHits != nil {
			v.Set("search_count", strconv.Itoa(*event.SearchHits))
		}
	}

	return v
}

func (e *Encoder) setAction(v url.Values, prefix string, segments []string) {
	if e.prefixing {
		segments = append([]string{prefix}, segments...)
	}
	name := strings.Join(segments, pathSeparator)
	v.Set("action_name", name)
	v.Set("url", "http://"+e.appHost+pathSeparator+name)
}

// encodeCustomVars renders the fixed-index custom variables as the JSON
// object the protocol expects: {"1":["name","value"],...}.
func encodeCustomVars(vars []domain.CustomVariable) string {
	if len(vars) == 0 {
		return ""
	}
	m := make(map[string][2]string, len(vars))
	for _, cv := range vars {
		m[strconv.Itoa(cv.Index)] = [2]string{cv.Name, cv.Value}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}
