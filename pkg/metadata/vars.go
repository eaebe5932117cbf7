package metadata

import (
	"strconv"
	"strings"
)

// Vars are the values substituted into init and prepare commands.
type Vars struct {
	SDK  string
	NDK  string
	Mvn3 string

	Commit      string
	VersionName string
	VersionCode int64
}

// BuildVars fills the per-build fields from b.
func (v Vars) BuildVars(b *Build) Vars {
	v.Commit = b.Commit.String()
	v.VersionName = b.VersionName
	v.VersionCode = b.VersionCode
	return v
}

// Substitute replaces every $$NAME$$ placeholder in cmd. Build fields
// are only substituted when a build is set.
func (v Vars) Substitute(cmd string) string {
	pairs := []string{
		"$$SDK$$", v.SDK,
		"$$NDK$$", v.NDK,
		"$$MVN3$$", v.Mvn3,
	}
	if v.VersionCode != 0 || v.Commit != "" {
		pairs = append(pairs,
			"$$COMMIT$$", v.Commit,
			"$$VERSION$$", v.VersionName,
			"$$VERCODE$$", strconv.FormatInt(v.VersionCode, 10),
		)
	}

	return strings.NewReplacer(pairs...).Replace(cmd)
}
