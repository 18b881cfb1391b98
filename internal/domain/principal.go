package domain

// Tier is a rate-limit tier assigned to a principal.
type Tier string

// Rate-limit tiers.
const (
	TierAnonymous     Tier = "anonymous"
	TierAuthenticated Tier = "authenticated"
	TierPremium       Tier = "premium"
)

// Principal is the requesting identity: tenant plus user (or IP for anonymous).
type Principal struct {
	TenantID string
	ID       string
	TeamIDs  []string
	Tier     Tier
}

// IsAnonymous reports whether the principal has no authenticated identity.
func (p Principal) IsAnonymous() bool { return p.Tier == TierAnonymous || p.ID == "" }

// InTeam reports whether the principal belongs to the given team.
func (p Principal) InTeam(teamID string) bool {
	if teamID == "" {
		return false
	}
	for _, t := range p.TeamIDs {
		if t == teamID {
			return true
		}
	}
	return false
}
