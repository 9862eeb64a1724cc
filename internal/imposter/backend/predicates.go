package backend

import (
	"regexp"
	"strings"

	"stagehand/internal/imposter"
)

type operator func(expected, actual string) bool

func equals(expected, actual string) bool     { return expected == actual }
func contains(expected, actual string) bool   { return strings.Contains(actual, expected) }
func startsWith(expected, actual string) bool { return strings.HasPrefix(actual, expected) }

func matches(expected, actual string) bool {
	re, err := regexp.Compile(expected)
	if err != nil {
		return false
	}
	return re.MatchString(actual)
}

// predicateMatches evaluates p against req. An empty predicate matches.
func predicateMatches(p imposter.Predicate, req imposter.CapturedRequest) bool {
	switch {
	case p.Equals != nil:
		return fieldsMatch(*p.Equals, req, equals)
	case p.Contains != nil:
		return fieldsMatch(*p.Contains, req, contains)
	case p.StartsWith != nil:
		return fieldsMatch(*p.StartsWith, req, startsWith)
	case p.Matches != nil:
		return fieldsMatch(*p.Matches, req, matches)
	case p.Exists != nil:
		return existsMatch(*p.Exists, req)
	case p.Not != nil:
		return !predicateMatches(*p.Not, req)
	case len(p.And) > 0:
		for _, sub := range p.And {
			if !predicateMatches(sub, req) {
				return false
			}
		}
		return true
	case len(p.Or) > 0:
		for _, sub := range p.Or {
			if predicateMatches(sub, req) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// fieldsMatch applies op to every field set in want. Methods compare
// case-insensitively and header names are case-insensitive.
func fieldsMatch(want imposter.RequestFields, req imposter.CapturedRequest, op operator) bool {
	if want.Method != "" && !op(strings.ToUpper(want.Method), strings.ToUpper(req.Method)) {
		return false
	}
	if want.Path != "" && !op(want.Path, req.Path) {
		return false
	}
	if want.Body != "" && !op(want.Body, req.Body) {
		return false
	}
	for k, v := range want.Query {
		actual, ok := req.Query[k]
		if !ok || !op(v, actual) {
			return false
		}
	}
	for k, v := range want.Headers {
		actual, ok := header(req.Headers, k)
		if !ok || !op(v, actual) {
			return false
		}
	}
	return true
}

// existsMatch treats each field value as "true" or "false": whether the
// request must carry that query parameter, header or a body.
func existsMatch(want imposter.RequestFields, req imposter.CapturedRequest) bool {
	if want.Body != "" && (want.Body == "true") != (req.Body != "") {
		return false
	}
	for k, v := range want.Query {
		_, ok := req.Query[k]
		if (v == "true") != ok {
			return false
		}
	}
	for k, v := range want.Headers {
		_, ok := header(req.Headers, k)
		if (v == "true") != ok {
			return false
		}
	}
	return true
}

func header(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
