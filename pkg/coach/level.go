// Package coach holds the freediving coaching rules: experience levels,
// dive signatures, intent detection, prompt assembly and fallback replies.
package coach

import (
	"math"
	"strconv"
	"strings"

	"github.com/freedive-ai/coach/pkg/models"
)

// Level is a diver's coarse experience tier.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelExpert       Level = "expert"
)

var expertCerts = []string{"instructor", "trainer", "master", "aida 4", "aida4", "wave 4", "level 4", "level 3", "wave 3", "aida 3", "aida3"}
var intermediateCerts = []string{"aida 2", "aida2", "wave 2", "level 2", "advanced", "ssi level 2", "padi freediver"}

// ExperienceLevel derives a Level from a diver's certification and personal best.
// The higher of the two signals wins.
func ExperienceLevel(p *models.Profile) Level {
	if p == nil {
		return LevelBeginner
	}
	level := LevelBeginner
	switch {
	case p.PersonalBestDepth >= 40:
		level = LevelExpert
	case p.PersonalBestDepth >= 20:
		level = LevelIntermediate
	}

	cert := strings.ToLower(p.CertificationLevel)
	switch {
	case containsAny(cert, expertCerts):
		level = LevelExpert
	case containsAny(cert, intermediateCerts) && level == LevelBeginner:
		level = LevelIntermediate
	}
	return level
}

// DiveSignature summarises the latest dive as discipline plus depth rounded
// to the nearest 10 m, e.g. "CWT:30". It returns "" when there is nothing to summarise.
func DiveSignature(logs []models.DiveLog) string {
	latest, ok := latestDive(logs)
	if !ok {
		return ""
	}
	discipline := strings.ToUpper(strings.TrimSpace(latest.Discipline))
	depth := int(math.Round(latest.Depth()/10) * 10)
	if discipline == "" && depth == 0 {
		return ""
	}
	return discipline + ":" + strconv.Itoa(depth)
}

func latestDive(logs []models.DiveLog) (models.DiveLog, bool) {
	if len(logs) == 0 {
		return models.DiveLog{}, false
	}
	latest := logs[0]
	for _, l := range logs[1:] {
		if l.CreatedAt.After(latest.CreatedAt) {
			latest = l
		}
	}
	return latest, true
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
