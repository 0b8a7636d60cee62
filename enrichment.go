package main

import (
	"math"
	"regexp"
	"strings"
)

// callsignPattern and gridPattern are the authoritative parsing rules for
// raw decode text (spec.md §4.10).
var (
	callsignPattern = regexp.MustCompile(`^[A-Z0-9]{1,3}[0-9][A-Z]{1,4}(/[A-Z0-9]+)?$`)
	gridPattern     = regexp.MustCompile(`^[A-R]{2}[0-9]{2}([a-x]{2})?$`)
)

// cqTargetTokens are the region keywords recognized immediately after "CQ ".
var cqTargetTokens = map[string]bool{
	"DX": true, "NA": true, "SA": true, "EU": true, "AS": true, "AF": true,
	"OC": true, "JA": true, "ASIA": true, "EUROPE": true, "AFRICA": true,
}

func isValidCallsign(tok string) bool { return callsignPattern.MatchString(tok) }
func isValidGrid(tok string) bool     { return gridPattern.MatchString(tok) }

// ParsedDecode is the result of parsing one raw decode's message text.
type ParsedDecode struct {
	IsCQ          bool
	Callsign      string
	Grid          string
	CQTargetToken string
	Valid         bool // false if no valid callsign could be found
}

// ParseDecodeText applies the field-extraction rules of spec.md §4.10 to a
// decode's raw message text.
func ParseDecodeText(raw string) ParsedDecode {
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		return ParsedDecode{}
	}

	var out ParsedDecode
	start := 0

	if strings.ToUpper(tokens[0]) == "CQ" {
		out.IsCQ = true
		out.CQTargetToken = extractCQTargetToken(raw)

		if len(tokens) > 1 && isValidCallsign(tokens[1]) {
			out.Callsign = tokens[1]
			out.Valid = true
			start = 2
		} else if len(tokens) > 1 && len(tokens[1]) <= 3 && len(tokens) > 2 && isValidCallsign(tokens[2]) {
			// tokens[1] is a region token (e.g. DX, EU, a continent or
			// prefix hint) being skipped to reach the callsign
			out.Callsign = tokens[2]
			out.Valid = true
			start = 3
		}
	} else {
		if isValidCallsign(tokens[0]) {
			out.Callsign = tokens[0]
			out.Valid = true
			start = 1
		} else if len(tokens) > 1 && isValidCallsign(tokens[1]) {
			out.Callsign = tokens[1]
			out.Valid = true
			start = 2
		}
	}

	for i := start; i < len(tokens); i++ {
		if isValidGrid(tokens[i]) {
			out.Grid = tokens[i]
			break
		}
	}

	return out
}

// extractCQTargetToken examines the token after "CQ " in the uppercased,
// trimmed text and returns it if it is a recognized region keyword.
func extractCQTargetToken(raw string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	if !strings.HasPrefix(trimmed, "CQ ") {
		return ""
	}
	rest := strings.TrimSpace(trimmed[len("CQ "):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	if cqTargetTokens[fields[0]] {
		return fields[0]
	}
	return ""
}

// IsDirectedToMe implements the authoritative server-side oracle from
// spec.md §4.10's decision table. Clients may never recompute this.
func IsDirectedToMe(token string, profile StationProfile) bool {
	switch token {
	case "":
		return true
	case "DX":
		return true
	case "NA", "SA", "EU", "AS", "AF", "OC":
		return profile.Continent == token
	case "EUROPE":
		return profile.Continent == "EU"
	case "ASIA":
		return profile.Continent == "AS"
	case "AFRICA":
		return profile.Continent == "AF"
	case "JA":
		p := strings.ToUpper(profile.DXCCPrefix)
		return strings.HasPrefix(p, "JA") || strings.HasPrefix(p, "JR") || strings.HasPrefix(p, "7J")
	default:
		return false
	}
}

// IsMyCall reports whether the raw decode text is directed at my callsign:
// the uppercased tokens contain it at position 0 or 1.
func IsMyCall(raw, myCall string) bool {
	tokens := strings.Fields(strings.ToUpper(raw))
	myCall = strings.ToUpper(myCall)
	if len(tokens) > 0 && tokens[0] == myCall {
		return true
	}
	if len(tokens) > 1 && tokens[1] == myCall {
		return true
	}
	return false
}

// gridToLatLon converts a Maidenhead grid locator to the center point of its
// square, used for great-circle distance/bearing enrichment. Grounded on the
// teacher's maidenhead.go, generalized from 4-character to 6-character
// precision and from distance-only to distance+bearing.
func gridToLatLon(grid string) (lat, lon float64, ok bool) {
	if !isValidGrid(grid) {
		return 0, 0, false
	}
	g := []rune(strings.ToUpper(grid))
	lon = float64(g[0]-'A')*20 - 180
	lat = float64(g[1]-'A')*10 - 90
	lon += float64(g[2]-'0') * 2
	lat += float64(g[3]-'0') * 1

	if len(g) >= 6 {
		lon += float64(g[4]-'A') * (2.0 / 24.0)
		lat += float64(g[5]-'A') * (1.0 / 24.0)
		lon += 1.0 / 24.0
		lat += 0.5 / 24.0
	} else {
		lon += 1.0
		lat += 0.5
	}
	return lat, lon, true
}

const earthRadiusKm = 6371.0088

// GreatCircle computes the distance in kilometers and initial bearing in
// degrees from grid a to grid b. ok is false if either grid is invalid.
func GreatCircle(gridA, gridB string) (distKm, bearingDeg float64, ok bool) {
	lat1, lon1, ok1 := gridToLatLon(gridA)
	lat2, lon2, ok2 := gridToLatLon(gridB)
	if !ok1 || !ok2 {
		return 0, 0, false
	}

	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dphi := (lat2 - lat1) * math.Pi / 180
	dlambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dphi/2)*math.Sin(dphi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dlambda/2)*math.Sin(dlambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	distKm = earthRadiusKm * c

	y := math.Sin(dlambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dlambda)
	bearingDeg = math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)

	return distKm, bearingDeg, true
}
