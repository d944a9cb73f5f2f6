package enums

import "strings"

type ReportReason string

const (
	ReportReasonSpam       ReportReason = "spam"
	ReportReasonFake       ReportReason = "fake"
	ReportReasonAbusive    ReportReason = "abusive"
	ReportReasonHarassment ReportReason = "harassment"
	ReportReasonHate       ReportReason = "hate_speech"
	ReportReasonSexual     ReportReason = "sexual_content"
	ReportReasonCopyright  ReportReason = "copyright"
	ReportReasonOther      ReportReason = "other"
)

func ParseReportReason(raw string) (ReportReason, bool) {
	reason := ReportReason(strings.ToLower(strings.TrimSpace(raw)))
	switch reason {
	case ReportReasonSpam, ReportReasonFake, ReportReasonAbusive, ReportReasonHarassment,
		ReportReasonHate, ReportReasonSexual, ReportReasonCopyright, ReportReasonOther:
		return reason, true
	default:
		return "", false
	}
}
