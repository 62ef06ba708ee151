package metadata

import (
	"net/url"
	"regexp"
)

const thumbnailBase = "http://thumbnails.libretro.com/"

var thumbnailReplace = regexp.MustCompile("[&*/:`<>?\\\\|]")

var libretroSystemNames = map[string]string{
	"nes":       "Nintendo - Nintendo Entertainment System",
	"snes":      "Nintendo - Super Nintendo Entertainment System",
	"n64":       "Nintendo - Nintendo 64",
	"gb":        "Nintendo - Game Boy",
	"gbc":       "Nintendo - Game Boy Color",
	"gba":       "Nintendo - Game Boy Advance",
	"nds":       "Nintendo - Nintendo DS",
	"genesis":   "Sega - Mega Drive - Genesis",
	"sms":       "Sega - Master System - Mark III",
	"gg":        "Sega - Game Gear",
	"segacd":    "Sega - Mega-CD - Sega CD",
	"32x":       "Sega - 32X",
	"psx":       "Sony - PlayStation",
	"psp":       "Sony - PlayStation Portable",
	"pce":       "NEC - PC Engine - TurboGrafx 16",
	"atari2600": "Atari - 2600",
	"atari7800": "Atari - 7800",
	"lynx":      "Atari - Lynx",
	"ngp":       "SNK - Neo Geo Pocket",
	"ngpc":      "SNK - Neo Geo Pocket Color",
	"ws":        "Bandai - WonderSwan",
	"wsc":       "Bandai - WonderSwan Color",
	"arcade":    "FBNeo - Arcade Games",
	"neogeo":    "FBNeo - Arcade Games",
}

// ThumbnailURL returns the libretro box-art URL for a game, or "" when the
// system has no thumbnail set.
func ThumbnailURL(systemID, gameName string) string {
	system, ok := libretroSystemNames[systemID]
	if !ok || gameName == "" {
		return ""
	}
	name := thumbnailReplace.ReplaceAllString(gameName, "_")
	return thumbnailBase + url.PathEscape(system) + "/Named_Boxarts/" + url.PathEscape(name) + ".png"
}
