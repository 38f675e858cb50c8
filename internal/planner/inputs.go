package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"specfactory/internal/types"
)

// Per-category planner input files under helper_files/.
func AllowlistKey(category string) string {
	return "helper_files/" + category + "/domain_allowlist.json"
}

func DeniedHostsKey(category string) string {
	return "helper_files/" + category + "/denied_hosts.json"
}

func IntelKey(category string) string {
	return "helper_files/" + category + "/planner_intel.json"
}

// Inputs bundles the per-category planner inputs: the domain allowlist, the
// denied host set, and the accumulated planner intel.
type Inputs struct {
	Allowlist map[string]DomainProfile
	Denied    map[string]bool
	Intel     *Intel
}

// LoadInputs reads the category's planner inputs from storage. Missing files
// yield empty inputs; a file that exists but does not parse is an error, so a
// corrupt allowlist never silently demotes every source to the candidate lane.
func LoadInputs(ctx context.Context, store types.Storage, category string) (*Inputs, error) {
	in := &Inputs{Intel: &Intel{}}

	if data, err := read(ctx, store, AllowlistKey(category)); err != nil {
		return nil, err
	} else if data != nil {
		if err := json.Unmarshal(data, &in.Allowlist); err != nil {
			return nil, fmt.Errorf("parse %s: %w", AllowlistKey(category), err)
		}
	}

	if data, err := read(ctx, store, DeniedHostsKey(category)); err != nil {
		return nil, err
	} else if data != nil {
		var hosts []string
		if err := json.Unmarshal(data, &hosts); err != nil {
			return nil, fmt.Errorf("parse %s: %w", DeniedHostsKey(category), err)
		}
		in.Denied = make(map[string]bool, len(hosts))
		for _, h := range hosts {
			in.Denied[normalizeHost(h)] = true
		}
	}

	if data, err := read(ctx, store, IntelKey(category)); err != nil {
		return nil, err
	} else if data != nil {
		if err := json.Unmarshal(data, in.Intel); err != nil {
			return nil, fmt.Errorf("parse %s: %w", IntelKey(category), err)
		}
	}

	return in, nil
}

// read returns nil data for a missing key.
func read(ctx context.Context, store types.Storage, key string) ([]byte, error) {
	data, err := store.Read(ctx, key)
	if errors.Is(err, types.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
