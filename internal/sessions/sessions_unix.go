//go:build !windows

package sessions

import (
	"context"
	"fmt"
	"os/user"
	"slices"
	"strconv"

	"github.com/shirou/gopsutil/v3/host"

	"chargechime/internal/sessionchan"
)

// UserSource treats every logged-in user as one interactive session keyed by
// uid, matching how the unix spawner starts agents.
type UserSource struct {
	users  func(ctx context.Context) ([]host.UserStat, error)
	lookup func(name string) (*user.User, error)
}

func NewSource() *UserSource {
	return &UserSource{users: host.UsersWithContext, lookup: user.Lookup}
}

func (s *UserSource) Active(ctx context.Context) ([]sessionchan.SessionID, error) {
	stats, err := s.users(ctx)
	if err != nil {
		return nil, fmt.Errorf("list logged-in users: %w", err)
	}
	seen := make(map[sessionchan.SessionID]bool)
	var ids []sessionchan.SessionID
	for _, st := range stats {
		if st.User == "" {
			continue
		}
		u, err := s.lookup(st.User)
		if err != nil {
			continue
		}
		uid, err := strconv.ParseUint(u.Uid, 10, 32)
		if err != nil {
			continue
		}
		id := sessionchan.SessionID(uid)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}
