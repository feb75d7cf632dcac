package cloudtrail

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the --date flag format.
const DateLayout = "2006-01-02"

// Prefix returns the key prefix CloudTrail writes one account/region/day under.
// keyPrefix is the trail's optional S3 key prefix.
func Prefix(keyPrefix, account, region string, date time.Time) string {
	p := fmt.Sprintf("AWSLogs/%s/CloudTrail/%s/%04d/%02d/%02d/",
		account, region, date.Year(), int(date.Month()), date.Day())
	if keyPrefix = strings.Trim(keyPrefix, "/"); keyPrefix != "" {
		p = keyPrefix + "/" + p
	}
	return p
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return d, nil
}
