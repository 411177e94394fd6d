package extract

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("IsPromotional", func() {
	var (
		subject string
		body    string
		sender  string
		promo   bool
	)

	BeforeEach(func() {
		subject = ""
		body = ""
		sender = ""
	})

	JustBeforeEach(func() {
		promo = IsPromotional(subject, body, sender)
	})

	When("the subject is a percentage-off offer", func() {
		BeforeEach(func() {
			subject = "Get 50% off today — don't miss out!"
		})

		It("is promotional", func() {
			Expect(promo).To(BeTrue())
		})
	})

	When("the subject uses save-up-to phrasing", func() {
		BeforeEach(func() {
			subject = "Save up to ₹500 this weekend"
		})

		It("is promotional", func() {
			Expect(promo).To(BeTrue())
		})
	})

	When("an event sender pushes concert mail", func() {
		BeforeEach(func() {
			sender = "noreply@ticketmaster.com"
			subject = "Your favorite band is on tour!"
		})

		It("is always promotional", func() {
			Expect(promo).To(BeTrue())
		})
	})

	When("the subject is recruitment mail", func() {
		BeforeEach(func() {
			subject = "Update on your application for Backend Engineer"
		})

		It("is always promotional", func() {
			Expect(promo).To(BeTrue())
		})
	})

	When("an order confirmation mentions a discount", func() {
		BeforeEach(func() {
			subject = "Order confirmation — you saved with a discount"
		})

		It("stays transactional", func() {
			Expect(promo).To(BeFalse())
		})
	})

	When("the promo phrasing is only in the body", func() {
		BeforeEach(func() {
			subject = "This weekend only"
			body = "Exclusive offer for our loyal customers, shop before Sunday!"
		})

		It("is promotional", func() {
			Expect(promo).To(BeTrue())
		})
	})

	When("the subject is a plain receipt", func() {
		BeforeEach(func() {
			subject = "Your receipt from Uber"
		})

		It("is not promotional", func() {
			Expect(promo).To(BeFalse())
		})
	})

	When("nothing matches", func() {
		BeforeEach(func() {
			subject = "Weekly update"
		})

		It("defaults to not promotional", func() {
			Expect(promo).To(BeFalse())
		})
	})
})
