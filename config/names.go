package config

import "math/rand"

// Word pools for generated program names. Two words out of these pools give
// over two thousand combinations, far more than a configuration file will
// ever hold programs.
var (
	nameAdjectives = []string{
		"amber", "ancient", "bold", "brave", "bright", "calm", "clever",
		"cold", "crimson", "curious", "dusty", "eager", "early", "fancy",
		"fast", "gentle", "golden", "green", "happy", "hidden", "humble",
		"icy", "jolly", "keen", "late", "lively", "lucky", "mellow",
		"misty", "noble", "pale", "patient", "proud", "quiet", "rapid",
		"rusty", "silent", "silver", "steady", "stern", "swift", "tall",
		"tidy", "vivid", "wandering", "warm", "wild", "wise", "young",
	}
	nameNouns = []string{
		"anchor", "badger", "beacon", "brook", "canyon", "cedar", "cloud",
		"comet", "coral", "crane", "dawn", "delta", "ember", "falcon",
		"fern", "field", "fjord", "flint", "forest", "fox", "glacier",
		"harbor", "hawk", "heron", "hill", "lake", "lantern", "maple",
		"meadow", "moon", "otter", "owl", "pine", "prairie", "raven",
		"reef", "ridge", "river", "sparrow", "spruce", "stone", "storm",
		"summit", "thicket", "tide", "trail", "valley", "willow", "wren",
	}
)

// GenerateName produces a random human-readable two-word identifier, e.g.
// "quiet-falcon".
func GenerateName() string {
	adj := nameAdjectives[rand.Intn(len(nameAdjectives))]
	noun := nameNouns[rand.Intn(len(nameNouns))]
	return adj + "-" + noun
}
