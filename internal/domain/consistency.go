package domain

import "strings"

// InconsistencyCheck inspects a COMPLETED photo and returns a non-empty
// reason when the record looks done but is not.
type InconsistencyCheck func(p Photo) string

// MissingResult flags completed records without a result reference.
func MissingResult(p Photo) string {
	if p.ResultRef == "" {
		return "result_missing"
	}
	return ""
}

// ResultIsSource flags records whose result points back at the source object.
func ResultIsSource(p Photo) string {
	if p.ResultRef != "" && p.ResultRef == p.SourceRef {
		return "result_equals_source"
	}
	return ""
}

// ResultMatchesSourceContent flags records whose result bytes hash to the source.
func ResultMatchesSourceContent(p Photo) string {
	if p.ResultChecksum != "" && p.ResultChecksum == p.SourceChecksum {
		return "result_checksum_equals_source"
	}
	return ""
}

// ResultNamedAfterSource flags results whose file name is derived from the
// source's, which happens when the upload was copied instead of enhanced.
// Keys issued by ResultKey are only compared with the source key, so an
// upload that happens to be called "enhanced.jpg" is not flagged.
func ResultNamedAfterSource(p Photo) string {
	if p.ResultRef == "" {
		return ""
	}
	result := strings.ToLower(Stem(p.ResultRef))
	if result == "" {
		return ""
	}
	candidates := []string{p.SourceRef}
	if !IsResultKey(p.ResultRef) {
		candidates = append(candidates, p.SourceName)
	}
	for _, candidate := range candidates {
		stem := strings.ToLower(Stem(candidate))
		if len(stem) < 3 {
			continue
		}
		if result == stem || strings.HasPrefix(result, stem+"_") || strings.HasPrefix(result, stem+"-") || strings.HasPrefix(result, stem+".") {
			return "result_named_after_source"
		}
	}
	return ""
}

// AnyOf combines checks; the first non-empty reason wins.
func AnyOf(checks ...InconsistencyCheck) InconsistencyCheck {
	return func(p Photo) string {
		for _, check := range checks {
			if check == nil {
				continue
			}
			if reason := check(p); reason != "" {
				return reason
			}
		}
		return ""
	}
}

// DefaultInconsistencyCheck is used by the recovery sweep unless overridden.
var DefaultInconsistencyCheck = AnyOf(
	MissingResult,
	ResultIsSource,
	ResultMatchesSourceContent,
	ResultNamedAfterSource,
)
