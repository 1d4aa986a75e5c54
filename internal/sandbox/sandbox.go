// Package sandbox computes effective sandbox policies. It only merges
// rules; enforcement happens in the external launcher that consumes the
// materialized policy.
package sandbox

import "github.com/driftpkg/drift/internal/config"

// Rule is a partial sandbox policy attached to one installed package.
// Nil slices and a nil Net mean "inherit from the next broader scope";
// an empty non-nil slice means "explicitly nothing".
type Rule struct {
	FSRead  []string `json:"fs_read,omitempty"`
	FSWrite []string `json:"fs_write,omitempty"`
	Net     *bool    `json:"net,omitempty"`
}

// Policy is a fully resolved sandbox policy with no unset fields.
type Policy struct {
	FSRead  []string `json:"fs_read"`
	FSWrite []string `json:"fs_write"`
	Net     bool     `json:"net"`
}

// Materialize merges package rule over repository default over the global
// default, field by field. A package specifying only Net inherits FSRead
// and FSWrite from the repository or global scope.
func Materialize(pkgRule *Rule, repoDefault *config.SandboxOverride, global config.SandboxConfig) Policy {
	policy := Policy{
		FSRead:  global.FSRead,
		FSWrite: global.FSWrite,
		Net:     global.Net,
	}

	if repoDefault != nil {
		if repoDefault.FSRead != nil {
			policy.FSRead = repoDefault.FSRead
		}
		if repoDefault.FSWrite != nil {
			policy.FSWrite = repoDefault.FSWrite
		}
		if repoDefault.Net != nil {
			policy.Net = *repoDefault.Net
		}
	}

	if pkgRule != nil {
		if pkgRule.FSRead != nil {
			policy.FSRead = pkgRule.FSRead
		}
		if pkgRule.FSWrite != nil {
			policy.FSWrite = pkgRule.FSWrite
		}
		if pkgRule.Net != nil {
			policy.Net = *pkgRule.Net
		}
	}

	if policy.FSRead == nil {
		policy.FSRead = []string{}
	}
	if policy.FSWrite == nil {
		policy.FSWrite = []string{}
	}
	return policy
}
