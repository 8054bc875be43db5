package deletion

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition builds the predicate fragment and named arguments for a single
// request. Fragments are independently OR-combinable; argument names are
// suffixed with idx so fragments from one batch never collide.
//
// Pure transformation, no I/O. Returns ErrMalformedKey when the key cannot
// be parsed into the shape the deletion type expects.
func Condition(r Request, idx int) (string, map[string]any, error) {
	teamArg := argName("team_id", idx)
	keyArg := argName("key", idx)

	switch r.Type {
	case TypeTeam:
		return fmt.Sprintf("team_id = :%s", teamArg),
			map[string]any{teamArg: r.TeamID}, nil

	case TypePerson:
		return fmt.Sprintf("team_id = :%s AND person_id = :%s", teamArg, keyArg),
			map[string]any{teamArg: r.TeamID, keyArg: r.Key}, nil

	case TypeGroup:
		if r.GroupTypeIndex == nil {
			return "", nil, fmt.Errorf("%w: group request %s has no group type index", ErrMalformedKey, r.ID)
		}
		column := GroupColumn(*r.GroupTypeIndex)
		return fmt.Sprintf("team_id = :%s AND %s = :%s", teamArg, column, keyArg),
			map[string]any{teamArg: r.TeamID, keyArg: r.Key}, nil

	case TypeCohortFull:
		cohortID, _, err := ParseCohortKey(r.Key)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("team_id = :%s AND cohort_id = :%s", teamArg, keyArg),
			map[string]any{teamArg: r.TeamID, keyArg: cohortID}, nil

	case TypeCohortStale:
		cohortID, suffix, err := ParseCohortKey(r.Key)
		if err != nil {
			return "", nil, err
		}
		version, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("%w: stale cohort key %q has no numeric version", ErrMalformedKey, r.Key)
		}
		versionArg := argName("version", idx)
		return fmt.Sprintf("team_id = :%s AND cohort_id = :%s AND version < :%s", teamArg, keyArg, versionArg),
			map[string]any{teamArg: r.TeamID, keyArg: cohortID, versionArg: version}, nil

	case TypeCustom:
		// The raw key is interpolated, not parameterized: it is itself a
		// full boolean expression from a trusted internal caller. See the
		// package documentation on the trust boundary.
		return fmt.Sprintf("team_id = :%s AND (%s)", teamArg, r.Key),
			map[string]any{teamArg: r.TeamID}, nil

	default:
		return "", nil, fmt.Errorf("%w %q", ErrNoProcessor, r.Type)
	}
}

// ParseCohortKey splits a cohort request key into cohort id and suffix.
// Cohort keys have the form "<cohort_id>_<version>" (stale) or
// "<cohort_id>_<ignored>" (full); the id must be a positive integer.
func ParseCohortKey(key string) (cohortID int64, suffix string, err error) {
	sep := strings.Index(key, "_")
	if sep < 0 {
		return 0, "", fmt.Errorf("%w: cohort key %q has no separator", ErrMalformedKey, key)
	}

	cohortID, err = strconv.ParseInt(key[:sep], 10, 64)
	if err != nil || cohortID <= 0 {
		return 0, "", fmt.Errorf("%w: cohort key %q has no positive cohort id", ErrMalformedKey, key)
	}

	return cohortID, key[sep+1:], nil
}

// GroupColumn returns the fact-table column for a group type index.
func GroupColumn(groupTypeIndex int) string {
	return fmt.Sprintf("group_%d_key", groupTypeIndex)
}

// CombineFragments joins OR-combinable fragments into one predicate.
func CombineFragments(fragments []string) string {
	if len(fragments) == 1 {
		return fragments[0]
	}
	return "(" + strings.Join(fragments, ") OR (") + ")"
}

func argName(name string, idx int) string {
	return fmt.Sprintf("%s_%d", name, idx)
}

// mergeArgs copies src into dst. Argument names are index-suffixed, so
// collisions cannot occur within one batch.
func mergeArgs(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}
