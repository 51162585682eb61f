// Copyright © 2017 Microsoft <wastore@microsoft.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package common

import (
	"regexp"
	"strings"
)

type LogSanitizer interface {
	SanitizeLogMessage(msg string) string
}

const (
	SigAzure       = "sig"
	SigXAmzForAws  = "x-amz-signature"
	CredXAmzForAws = "x-amz-credential"
)

// logSanitizer performs string-replacement based log redaction.
// It is a backstop: SAS signatures and presigned S3 URLs can end up inside errors
// returned by the store clients, and those errors get logged.
type logSanitizer struct{}

func NewLogSanitizer() LogSanitizer {
	return &logSanitizer{}
}

var sensitiveQueryStringKeys = []string{
	"sig",
	"signature",  // covers both "signature" and x-amz-signature
	"token",
	"credential", // covers x-amz-credential
}

// SanitizeLogMessage uses a 'to lower' of the raw string for the quick check, because
// case-insensitive regexes are much slower and most lines contain no secrets at all.
func (s *logSanitizer) SanitizeLogMessage(msg string) string {
	lowerMsg := strings.ToLower(msg)

	for _, key := range sensitiveQueryStringKeys {
		if strings.Contains(lowerMsg, key) {
			msg = sensitiveRegexMap[key].ReplaceAllString(msg, "$1-REDACTED-")
		}
	}

	return msg
}

// safe for concurrent reads once populated
var sensitiveRegexMap = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(sensitiveQueryStringKeys))
	for _, key := range sensitiveQueryStringKeys {
		// first group is the key and delimiter, second is the value up to the next terminator.
		// We assume values never contain '&'.
		m[key] = regexp.MustCompile("(?i)(?P<key>" + key + "[ \t]*[:=][ \t]*)(?P<value>[^& ,;\t\n\r]+)")
	}
	if _, ok := m[SigAzure]; !ok {
		panic("sensitiveQueryStringKeys is misconfigured and does not contain Azure sig")
	}
	return m
}()
