// Package metadata answers "which system is this ROM for" from checksums,
// names and folder layout.
package metadata

import (
	"regexp"
	"strings"

	"github.com/veranemoloko/romfetch/internal/domain"
)

var systemFolderNames = map[string]string{
	"nes": "nes", "famicom": "nes", "nintendo": "nes",
	"snes": "snes", "superfamicom": "snes", "supernintendo": "snes",
	"n64": "n64", "nintendo64": "n64",
	"gb": "gb", "gameboy": "gb",
	"gbc": "gbc", "gameboycolor": "gbc",
	"gba": "gba", "gameboyadvance": "gba",
	"nds": "nds", "ds": "nds", "nintendods": "nds",
	"virtualboy": "vb",

	"genesis": "genesis", "megadrive": "genesis", "md": "genesis",
	"sms": "sms", "mastersystem": "sms", "segamastersystem": "sms",
	"gamegear": "gg", "gg": "gg",
	"segacd": "segacd", "megacd": "segacd",
	"32x": "32x", "sega32x": "32x",
	"saturn": "saturn", "segasaturn": "saturn",
	"dreamcast": "dc", "dc": "dc",

	"psx": "psx", "ps1": "psx", "playstation": "psx", "psone": "psx",
	"psp": "psp", "playstationportable": "psp",

	"atari2600": "atari2600", "2600": "atari2600", "a2600": "atari2600",
	"atari7800": "atari7800", "7800": "atari7800", "a7800": "atari7800",
	"lynx": "lynx", "atarilynx": "lynx",
	"jaguar": "jaguar", "atarijaguar": "jaguar",

	"pce": "pce", "pcengine": "pce", "turbografx": "pce", "tg16": "pce",
	"pcfx": "pcfx",

	"neogeo": "neogeo", "ng": "neogeo",
	"ngp": "ngp", "neogeopocket": "ngp",
	"ngpc": "ngpc", "neogeopocketcolor": "ngpc",

	"arcade": "arcade", "mame": "arcade", "fba": "arcade", "fbneo": "arcade",
	"wonderswan": "ws", "ws": "ws",
	"wonderswancolor": "wsc", "wsc": "wsc",
	"coleco": "coleco", "colecovision": "coleco",
}

var extensionSystems = map[string]string{
	"nes": "nes", "fds": "nes", "unf": "nes",
	"sfc": "snes", "smc": "snes", "fig": "snes", "swc": "snes",
	"n64": "n64", "z64": "n64", "v64": "n64",
	"gb": "gb", "gbc": "gbc", "gba": "gba",
	"nds": "nds", "dsi": "nds",

	"md": "genesis", "gen": "genesis", "smd": "genesis", "bin": "genesis",
	"gg": "gg", "sms": "sms", "sg": "sms",

	"pbp": "psp", "iso": "psx", "cue": "psx", "chd": "psx",

	"pce": "pce", "sgx": "pce",

	"a26": "atari2600", "a78": "atari7800", "lnx": "lynx",

	"ngp": "ngp", "ngc": "ngpc",

	"ws": "ws", "wsc": "wsc",
	"col": "coleco", "vec": "vectrex", "int": "intellivision",
}

// Extensions shared by several systems; they only hint at a system.
var ambiguousExtensions = map[string]bool{
	"bin": true, "iso": true, "cue": true, "chd": true,
}

// ArchiveExtensions can wrap a ROM of any system.
var ArchiveExtensions = map[string]bool{
	"zip": true, "7z": true, "rar": true,
}

var regionPatterns = []struct {
	re     *regexp.Regexp
	region string
}{
	{regexp.MustCompile(`(?i)\((USA|U|US)\)`), "USA"},
	{regexp.MustCompile(`(?i)\((Europe|EUR|E)\)`), "EUR"},
	{regexp.MustCompile(`(?i)\((Japan|JPN|J)\)`), "JPN"},
	{regexp.MustCompile(`(?i)\((Spain|ESP|Es)\)`), "ESP"},
	{regexp.MustCompile(`(?i)\((France|FRA|Fr)\)`), "FRA"},
	{regexp.MustCompile(`(?i)\((Germany|GER|De)\)`), "GER"},
	{regexp.MustCompile(`(?i)\((Italy|ITA|It)\)`), "ITA"},
	{regexp.MustCompile(`(?i)\((World|W)\)`), "World"},
	{regexp.MustCompile(`(?i)\((Korea|KOR)\)`), "KOR"},
	{regexp.MustCompile(`(?i)\((Brazil|BRA)\)`), "BRA"},
}

var (
	parenTags   = regexp.MustCompile(`\([^)]*\)`)
	bracketTags = regexp.MustCompile(`\[[^\]]*\]`)
	spaces      = regexp.MustCompile(`\s+`)
	folderNoise = strings.NewReplacer(" ", "", "-", "", "_", "")
)

// RomInfo is what can be read from a ROM's path and file name alone.
type RomInfo struct {
	CleanName string
	FileName  string
	SystemID  string
	Region    string
	Extension string
}

// Extract derives system, region and a clean title from a relative path
// such as "SNES/RPG/Chrono Trigger (USA).zip". Folder names win over the
// file extension.
func Extract(relativePath, fileName string) RomInfo {
	ext := domain.Extension(fileName)
	system := SystemFromPath(relativePath)
	if system == "" {
		system = SystemFromExtension(ext)
	}
	return RomInfo{
		CleanName: CleanName(fileName),
		FileName:  fileName,
		SystemID:  system,
		Region:    Region(fileName),
		Extension: ext,
	}
}

// SystemFromPath checks the parent folders of p, deepest first.
func SystemFromPath(p string) string {
	parts := strings.Split(strings.ReplaceAll(p, `\`, "/"), "/")
	if len(parts) > 0 {
		parts = parts[:len(parts)-1]
	}
	for i := len(parts) - 1; i >= 0; i-- {
		lower := strings.ToLower(parts[i])
		if id, ok := systemFolderNames[folderNoise.Replace(lower)]; ok {
			return id
		}
		if id, ok := systemFolderNames[lower]; ok {
			return id
		}
	}
	return ""
}

// SystemFromExtension maps a ROM extension (without dot) to a system id.
func SystemFromExtension(ext string) string {
	return extensionSystems[strings.ToLower(ext)]
}

// Region returns the first region tag found in name, or "".
func Region(name string) string {
	for _, p := range regionPatterns {
		if p.re.MatchString(name) {
			return p.region
		}
	}
	return ""
}

// CleanName strips the extension and (...) / [...] tags from a file name.
func CleanName(fileName string) string {
	name := fileName
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	name = parenTags.ReplaceAllString(name, "")
	name = bracketTags.ReplaceAllString(name, "")
	name = strings.TrimSpace(spaces.ReplaceAllString(name, " "))
	if name == "" {
		return fileName
	}
	return name
}

var displayNames = map[string]string{
	"nes":       "NES",
	"snes":      "SNES",
	"n64":       "N64",
	"gb":        "Game Boy",
	"gbc":       "GBC",
	"gba":       "GBA",
	"nds":       "NDS",
	"genesis":   "Genesis/MD",
	"sms":       "Master System",
	"gg":        "Game Gear",
	"psx":       "PlayStation",
	"psp":       "PSP",
	"pce":       "PC Engine",
	"arcade":    "Arcade",
	"neogeo":    "Neo Geo",
	"atari2600": "Atari 2600",
	"lynx":      "Lynx",
	"ws":        "WonderSwan",
}

// DisplayName returns a short human name for a system id.
func DisplayName(systemID string) string {
	if systemID == "" {
		return "Unknown"
	}
	if n, ok := displayNames[systemID]; ok {
		return n
	}
	return strings.ToUpper(systemID)
}
