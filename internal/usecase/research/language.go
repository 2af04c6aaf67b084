package research

import (
	"regexp"
	"strings"
)

// Answer types understood by the planner.
const (
	AnswerPerson       = "person_name"
	AnswerOrganization = "organization"
	AnswerNumber       = "number"
	AnswerYear         = "year"
	AnswerTitle        = "title"
	AnswerDevice       = "device"
	AnswerPlace        = "place"
	AnswerText         = "text"
)

var languagePrefixes = []struct {
	prefix, code string
}{
	{"zh", "zh"},
	{"en", "en"},
	{"ja", "ja"},
	{"jp", "ja"},
	{"ko", "ko"},
	{"fr", "fr"},
	{"de", "de"},
	{"es", "es"},
}

// normalizeLanguage reduces a language tag to its short code: "zh-CN" is
// "zh", "jp" is "ja". Unknown tags pass through lowercased; empty is "en".
func normalizeLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return "en"
	}
	for _, p := range languagePrefixes {
		if strings.HasPrefix(tag, p.prefix) {
			return p.code
		}
	}
	return tag
}

var hanRe = regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)

// questionLanguage guesses the language a question is written in.
func questionLanguage(question string) string {
	if hanRe.MatchString(question) {
		return "zh"
	}
	return "en"
}

var chinaTopicRe = regexp.MustCompile(`\b(china|chinese|taiwan|hong kong)\b`)

// secondaryLanguages picks languages worth searching besides the question's
// own: English for Chinese questions, Chinese for English questions about
// Chinese-speaking places.
func secondaryLanguages(question string) []string {
	if questionLanguage(question) == "zh" {
		return []string{"en"}
	}
	if chinaTopicRe.MatchString(strings.ToLower(question)) {
		return []string{"zh"}
	}
	return nil
}

// answerTypeRules are checked in order; the first matching rule wins.
var answerTypeRules = []struct {
	kind    string
	english *regexp.Regexp
	chinese *regexp.Regexp
}{
	{AnswerYear, regexp.MustCompile(`\b(year|what year|which year|when)\b`), regexp.MustCompile(`(哪一年|年份|年号|何年)`)},
	{AnswerNumber, regexp.MustCompile(`\b(how many|number|digit)\b`), regexp.MustCompile(`(多少|几个|数值)`)},
	{AnswerPerson, regexp.MustCompile(`\b(who|author|founder|inventor)\b`), regexp.MustCompile(`(是谁|作者|创始人|导演|主演)`)},
	{AnswerOrganization, regexp.MustCompile(`\b(company|organization|institution|museum)\b`), regexp.MustCompile(`(公司|机构|组织|协会|博物馆)`)},
	{AnswerPlace, regexp.MustCompile(`\b(where|location|city|town|capital)\b`), regexp.MustCompile(`(哪里|地点|城市|首都|名称)`)},
}

// inferAnswerType guesses what kind of value the question asks for.
func inferAnswerType(question string) string {
	lower := strings.ToLower(question)
	for _, r := range answerTypeRules {
		if r.english.MatchString(lower) || r.chinese.MatchString(question) {
			return r.kind
		}
	}
	return AnswerText
}

var (
	explicitFormatRe = regexp.MustCompile(`(?i)(格式形如|回答格式|要求格式|format)`)
	answerOnlyRe     = regexp.MustCompile(`(?i)(只回答|只输出|answer with|give me)`)
)

// formatHint turns format instructions found in the question into a hint
// for the later stages.
func formatHint(question string) string {
	switch {
	case explicitFormatRe.MatchString(question):
		return "Follow the explicit format in the question."
	case answerOnlyRe.MatchString(question):
		return "Return only the answer text, no explanation."
	default:
		return ""
	}
}

// querySuffixes narrow a search toward the expected answer type.
var querySuffixes = map[string]map[string]string{
	AnswerPerson:       {"en": "biography", "zh": "人物 简介"},
	AnswerOrganization: {"en": "official name", "zh": "全称"},
	AnswerYear:         {"en": "year", "zh": "年份"},
	AnswerNumber:       {"en": "number", "zh": "数字"},
	AnswerTitle:        {"en": "title", "zh": "标题"},
	AnswerPlace:        {"en": "location", "zh": "地点"},
	AnswerDevice:       {"en": "device", "zh": "设备"},
}
