// Package namegen generates the three-part project names: two dictionary
// words joined by dashes plus a two-digit number, e.g. "quiet-harbor-42".
// Uniqueness is enforced by the project table's unique index; callers retry
// with a fresh name on collision.
package namegen

import (
	"fmt"
	"math/rand/v2"
	"regexp"
)

var adjectives = []string{
	"ancient", "autumn", "billowing", "bitter", "black", "blue", "bold",
	"broad", "broken", "calm", "cold", "cool", "crimson", "curly", "damp",
	"dark", "dawn", "delicate", "divine", "dry", "empty", "falling", "fancy",
	"flat", "floral", "fragrant", "frosty", "gentle", "green", "hidden",
	"holy", "icy", "jolly", "late", "lingering", "little", "lively", "long",
	"lucky", "misty", "morning", "muddy", "mute", "nameless", "noisy", "odd",
	"old", "orange", "patient", "plain", "polished", "proud", "purple",
	"quiet", "rapid", "raspy", "red", "restless", "rough", "round", "royal",
	"shiny", "shy", "silent", "small", "snowy", "soft", "solitary", "sparkling",
	"spring", "square", "steep", "still", "summer", "super", "sweet", "throbbing",
	"tight", "tiny", "twilight", "wandering", "weathered", "white", "wild",
	"winter", "wispy", "withered", "yellow", "young",
}

var nouns = []string{
	"art", "band", "bar", "base", "bird", "block", "boat", "bonus", "bread",
	"breeze", "brook", "bush", "butterfly", "cake", "cell", "cherry", "cloud",
	"credit", "darkness", "dawn", "dew", "disk", "dream", "dust", "feather",
	"field", "fire", "firefly", "flower", "fog", "forest", "frog", "frost",
	"glade", "glitter", "grass", "hall", "harbor", "hat", "haze", "heart",
	"hill", "king", "lab", "lake", "leaf", "limit", "math", "meadow", "mode",
	"moon", "morning", "mountain", "mouse", "mud", "night", "paper", "pine",
	"poetry", "pond", "queen", "rain", "recipe", "resonance", "rice", "river",
	"salad", "scene", "sea", "shadow", "shape", "silence", "sky", "smoke",
	"snow", "snowflake", "sound", "star", "sun", "sunset", "surf", "term",
	"thunder", "tooth", "tree", "truth", "union", "unit", "violet", "voice",
	"water", "waterfall", "wave", "wildflower", "wind", "wood",
}

// namePattern is the shape every generated and user-supplied project name
// must satisfy.
var namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)

// Generate returns a fresh random project name.
func Generate() string {
	a := adjectives[rand.IntN(len(adjectives))]
	n := nouns[rand.IntN(len(nouns))]
	return fmt.Sprintf("%s-%s-%02d", a, n, rand.IntN(100))
}

// Valid reports whether a name satisfies the project-name shape.
func Valid(name string) bool {
	return name != "" && namePattern.MatchString(name)
}
