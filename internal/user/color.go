package user

import (
	"fmt"
	"math/rand"
)

// Colors too close to text/background defaults; re-rolled when hit.
var avoidColors = map[string]bool{
	"#000000": true,
	"#ffffff": true,
	"#8b4513": true,
}

// RandomColor returns a random accent color in lowercase #rrggbb form.
// Assigned to users and organizations at creation for avatar fallbacks.
func RandomColor() string {
	for {
		c := fmt.Sprintf("#%02x%02x%02x", rand.Intn(256), rand.Intn(256), rand.Intn(256))
		if !avoidColors[c] {
			return c
		}
	}
}
