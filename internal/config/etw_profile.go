package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ETWProfile records which kernel providers are enabled. The agent loads
// and validates it, but starts the event source with every provider
// enabled; the profile's per-provider settings are not applied.
// Persisted as a flat INI file, grounded byte-for-byte on etw_settings.cpp's
// loadIni/saveIni/fillSettings.
type ETWProfile struct {
	ProcessStart bool
	ImgLoad      bool
	Allocation   bool
	TcpIP        bool
	ObjMgr       bool
}

const (
	keyWatchProcessStart = "WATCH_PROCESS_START"
	keyWatchImgLoad      = "WATCH_IMG_LOAD"
	keyWatchAllocation   = "WATCH_ALLOCATION"
	keyWatchTCPIP        = "WATCH_TCP_IP"
	keyWatchObjMgr       = "WATCH_OBJ_MGR"
)

// AllProvidersProfile returns an ETWProfile with every provider enabled,
// matching ETWProfile::setAll().
func AllProvidersProfile() ETWProfile {
	return ETWProfile{true, true, true, true, true}
}

// IsEnabled reports whether at least one provider is enabled, matching
// ETWProfile::isEnabled().
func (p ETWProfile) IsEnabled() bool {
	return p.ProcessStart || p.ImgLoad || p.Allocation || p.TcpIP || p.ObjMgr
}

// InitProfile loads the profile at path; if the file does not exist or
// contains no recognized keys, it falls back to AllProvidersProfile and
// writes that back to path, matching ETWProfile::initProfile's
// load-or-seed-defaults behavior.
func InitProfile(path string) (ETWProfile, error) {
	profile, ok, err := LoadETWProfile(path)
	if err != nil {
		return ETWProfile{}, err
	}
	if ok {
		return profile, nil
	}
	profile = AllProvidersProfile()
	if err := SaveETWProfile(path, profile); err != nil {
		return ETWProfile{}, err
	}
	return profile, nil
}

// LoadETWProfile parses the INI file at path. ok is false if the file could
// not be opened or no recognized key/value line was found, matching
// loadIni's "filledAny" return.
func LoadETWProfile(path string) (profile ETWProfile, ok bool, err error) {
	f, openErr := os.Open(path)
	if openErr != nil {
		return ETWProfile{}, false, nil
	}
	defer f.Close()

	filledAny := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := stripComment(scanner.Text())
		if fillSetting(&profile, line) {
			filledAny = true
		}
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return ETWProfile{}, false, fmt.Errorf("config: reading %q: %w", path, scanErr)
	}
	return profile, filledAny, nil
}

// SaveETWProfile writes profile to path as INI text, matching
// ETWProfile::saveIni's exact key order and True/False spelling.
func SaveETWProfile(path string, profile ETWProfile) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%s\n", keyWatchProcessStart, booleanToStr(profile.ProcessStart))
	fmt.Fprintf(&b, "%s=%s\n", keyWatchImgLoad, booleanToStr(profile.ImgLoad))
	fmt.Fprintf(&b, "%s=%s\n", keyWatchAllocation, booleanToStr(profile.Allocation))
	fmt.Fprintf(&b, "%s=%s\n", keyWatchTCPIP, booleanToStr(profile.TcpIP))
	fmt.Fprintf(&b, "%s=%s\n", keyWatchObjMgr, booleanToStr(profile.ObjMgr))

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("config: cannot write %q: %w", path, err)
	}
	return nil
}

// stripComment truncates str at the first ';' or '#', matching
// ETWProfile::stripComments.
func stripComment(str string) string {
	if idx := strings.IndexAny(str, ";#"); idx != -1 {
		return str[:idx]
	}
	return str
}

// fillSetting parses one KEY=VALUE line and applies it to profile, matching
// ETWProfile::fillSettings. Returns true if the line named a recognized key.
func fillSetting(profile *ETWProfile, line string) bool {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) < 2 {
		return false
	}
	name := strings.TrimSpace(parts[0])
	val := strings.TrimSpace(parts[1])

	isFilled := false
	if strings.EqualFold(name, keyWatchProcessStart) {
		profile.ProcessStart = loadBoolean(val, profile.ProcessStart)
		isFilled = true
	}
	if strings.EqualFold(name, keyWatchImgLoad) {
		profile.ImgLoad = loadBoolean(val, profile.ImgLoad)
		isFilled = true
	}
	if strings.EqualFold(name, keyWatchAllocation) {
		profile.Allocation = loadBoolean(val, profile.Allocation)
		isFilled = true
	}
	if strings.EqualFold(name, keyWatchTCPIP) {
		profile.TcpIP = loadBoolean(val, profile.TcpIP)
		isFilled = true
	}
	if strings.EqualFold(name, keyWatchObjMgr) {
		profile.ObjMgr = loadBoolean(val, profile.ObjMgr)
		isFilled = true
	}
	return isFilled
}

// loadBoolean matches util::loadBoolean: True/on/yes -> true, False/off/no
// -> false (case-insensitive), else parse as an integer and treat nonzero
// as true. The "default" parameter mirrors the original signature exactly;
// like the original it is never consulted once the string fails both
// keyword checks, a non-numeric string there silently reads as false
// rather than falling back to def.
func loadBoolean(str string, def bool) bool {
	switch {
	case strings.EqualFold(str, "true"), strings.EqualFold(str, "on"), strings.EqualFold(str, "yes"):
		return true
	case strings.EqualFold(str, "false"), strings.EqualFold(str, "off"), strings.EqualFold(str, "no"):
		return false
	}
	val, _ := strconv.Atoi(str)
	return val != 0
}

// booleanToStr matches util::booleanToStr.
func booleanToStr(val bool) string {
	if val {
		return "True"
	}
	return "False"
}
