package fetchtest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/peerdex/peerdex/pkg/types"
)

// Fixture is a self-contained social graph loaded from JSON: the searching
// user, their local contacts and group peers, and the remote graph served by
// the fixture client.
type Fixture struct {
	User     types.PubKey
	Contacts []*types.Profile
	Groups   []types.PubKey
	Client   *Client
}

// SearchSeeds returns the seed set for a search as this fixture's user: the
// user's own pubkey, or nil when the fixture has no user (the fallback-seed
// path).
func (f *Fixture) SearchSeeds() []types.PubKey {
	if f.User == (types.PubKey{}) {
		return nil
	}
	return []types.PubKey{f.User}
}

type fixtureFile struct {
	User     string           `json:"user"`
	Contacts []fixtureProfile `json:"contacts"`
	Groups   []string         `json:"groups"`
	Profiles []fixtureProfile `json:"profiles"`

	Follows    map[string][]string `json:"follows"`
	RelayLists map[string][]string `json:"relay_lists"`
}

type fixtureProfile struct {
	PubKey      string   `json:"pubkey"`
	DisplayName string   `json:"display_name"`
	Name        string   `json:"name"`
	Handle      string   `json:"handle"`
	UpdatedAt   string   `json:"updated_at"`
	Connected   bool     `json:"connected"`
	Homes       []string `json:"homes"`
}

func (f fixtureProfile) profile() (*types.Profile, error) {
	pk, err := types.ParsePubKey(f.PubKey)
	if err != nil {
		return nil, err
	}
	updatedAt := time.Now()
	if f.UpdatedAt != "" {
		updatedAt, err = time.Parse(time.RFC3339, f.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", f.PubKey, err)
		}
	}
	return &types.Profile{
		PubKey:      pk,
		DisplayName: f.DisplayName,
		Name:        f.Name,
		Handle:      f.Handle,
		UpdatedAt:   updatedAt,
	}, nil
}

// LoadFixture reads a JSON graph fixture from path.
func LoadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file fixtureFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}

	fx := &Fixture{Client: NewClient()}

	if file.User != "" {
		fx.User, err = types.ParsePubKey(file.User)
		if err != nil {
			return nil, err
		}
	}

	for _, fp := range file.Contacts {
		p, err := fp.profile()
		if err != nil {
			return nil, err
		}
		fx.Contacts = append(fx.Contacts, p)
	}

	for _, g := range file.Groups {
		pk, err := types.ParsePubKey(g)
		if err != nil {
			return nil, err
		}
		fx.Groups = append(fx.Groups, pk)
	}

	for _, fp := range file.Profiles {
		p, err := fp.profile()
		if err != nil {
			return nil, err
		}
		if fp.Connected {
			fx.Client.AddProfile(p)
		} else {
			fx.Client.AddOutboxProfile(p, fp.Homes...)
		}
	}

	for owner, follows := range file.Follows {
		pk, err := types.ParsePubKey(owner)
		if err != nil {
			return nil, err
		}
		var fpks []types.PubKey
		for _, f := range follows {
			fpk, err := types.ParsePubKey(f)
			if err != nil {
				return nil, err
			}
			fpks = append(fpks, fpk)
		}
		fx.Client.SetFollows(pk, fpks...)
	}

	for owner, relays := range file.RelayLists {
		pk, err := types.ParsePubKey(owner)
		if err != nil {
			return nil, err
		}
		fx.Client.SetRelayList(pk, relays...)
	}

	return fx, nil
}
