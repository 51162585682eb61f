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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogSanitizer(t *testing.T) {
	a := assert.New(t)

	cases := []struct {
		raw               string
		expectedSanitized string
	}{
		{"string with no secrets", "string with no secrets"},

		// left alone
		{"This is the sig that I have and x=y", "This is the sig that I have and x=y"},
		{"http://foo/path/with/sig/in/it?x=y", "http://foo/path/with/sig/in/it?x=y"},
		{"http://foo?signatureevent=123&x=y", "http://foo?signatureevent=123&x=y"},
		{"http://foo?something=sig&somethingelse=sig", "http://foo?something=sig&somethingelse=sig"},

		// redacted
		{"https://acct.blob.core.windows.net/c/b?sv=2020&" + SigAzure + "=abc%2Fdef&se=x", "https://acct.blob.core.windows.net/c/b?sv=2020&sig=-REDACTED-&se=x"},
		{"PutBlock https://a/c/b?comp=block&sig=somevalue\r\nnext", "PutBlock https://a/c/b?comp=block&sig=-REDACTED-\r\nnext"},
		{"http://foo?a=b&" + SigXAmzForAws + "=somevalue&x=y", "http://foo?a=b&x-amz-signature=-REDACTED-&x=y"},
		{"http://foo.com/bar?x=y&" + CredXAmzForAws + "=somevalue&x=y", "http://foo.com/bar?x=y&x-amz-credential=-REDACTED-&x=y"},
		{"http://foo?sIg=somevalue&x=y", "http://foo?sIg=-REDACTED-&x=y"},
		{"http://foo?x=y&my-token=somevalue", "http://foo?x=y&my-token=-REDACTED-"},
		{"Foo : x, Signature : bar, Other: z", "Foo : x, Signature : -REDACTED-, Other: z"},
		{"copy from http://foo?sig=one to http://bar?sig=two", "copy from http://foo?sig=-REDACTED- to http://bar?sig=-REDACTED-"},
	}

	san := NewLogSanitizer()
	for _, x := range cases {
		a.Equal(x.expectedSanitized, san.SanitizeLogMessage(x.raw), x.raw)
	}
}
