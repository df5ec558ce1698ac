/*
Copyright (c) 2025 Mike Lane

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package v1alpha1

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("EnvironmentRequest", func() {
	Context("ParseRequest", func() {
		It("decodes name, action and opaque projects", func() {
			req, err := ParseRequest([]byte(`{"name":"pr-123","projects":[{"repo":"a"}],"action":"create"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Name).To(Equal("pr-123"))
			Expect(req.Action).To(Equal(ActionCreate))
			Expect(req.HasProjects()).To(BeTrue())
			Expect(req.Projects.Raw).To(MatchJSON(`[{"repo":"a"}]`))
		})

		It("normalises action case and trims the name", func() {
			req, err := ParseRequest([]byte(`{"name":"  pr-7 ","action":"Refresh"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Name).To(Equal("pr-7"))
			Expect(req.Action).To(Equal(ActionRefresh))
		})

		It("treats null projects as absent", func() {
			req, err := ParseRequest([]byte(`{"name":"pr-1","action":"create","projects":null}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.HasProjects()).To(BeFalse())
		})

		It("leaves a missing name empty", func() {
			req, err := ParseRequest([]byte(`{"action":"create"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Name).To(BeEmpty())
		})

		It("rejects malformed JSON", func() {
			_, err := ParseRequest([]byte(`{"name":`))
			Expect(err).To(HaveOccurred())
		})
	})

	Context("Action", func() {
		DescribeTable("IsValid",
			func(action Action, want bool) {
				Expect(action.IsValid()).To(Equal(want))
			},
			Entry("create", ActionCreate, true),
			Entry("refresh", ActionRefresh, true),
			Entry("delete", ActionDelete, true),
			Entry("empty", Action(""), false),
			Entry("unknown", Action("upgrade"), false),
		)
	})

	Context("ParseTTL", func() {
		DescribeTable("parses supported formats",
			func(ttl string, want time.Duration) {
				req := &EnvironmentRequest{TTL: ttl}
				got, err := req.ParseTTL()
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(Equal(want))
			},
			Entry("empty means no expiry", "", time.Duration(0)),
			Entry("hours", "4h", 4*time.Hour),
			Entry("minutes", "30m", 30*time.Minute),
			Entry("days", "2d", 48*time.Hour),
			Entry("largest representable day count", "106751d", 106751*24*time.Hour),
		)

		DescribeTable("rejects invalid formats",
			func(ttl string) {
				req := &EnvironmentRequest{TTL: ttl}
				_, err := req.ParseTTL()
				Expect(err).To(HaveOccurred())
			},
			Entry("garbage", "soon"),
			Entry("bad days", "xd"),
			Entry("zero days", "0d"),
			Entry("negative", "-1h"),
			Entry("days wrapping to a short duration", "213504d"),
			Entry("days wrapping to a negative duration", "200000d"),
			Entry("days beyond int64", "99999999999999999999d"),
		)
	})

	Context("CommitRef", func() {
		It("splits owner and repository", func() {
			ref := &CommitRef{Repository: "acme/shop", SHA: "abc123"}
			owner, repo, ok := ref.OwnerRepo()
			Expect(ok).To(BeTrue())
			Expect(owner).To(Equal("acme"))
			Expect(repo).To(Equal("shop"))
		})

		It("reports incomplete references", func() {
			for _, ref := range []*CommitRef{
				nil,
				{Repository: "acme/shop"},
				{Repository: "acme", SHA: "abc"},
				{Repository: "acme/shop/extra", SHA: "abc"},
			} {
				_, _, ok := ref.OwnerRepo()
				Expect(ok).To(BeFalse())
			}
		})
	})
})
