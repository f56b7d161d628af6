package models

// LeadCapturePayload is the body a published landing page posts when a
// visitor submits its form.
type LeadCapturePayload struct {
	Email   string `json:"email" form:"email" binding:"required,email"`
	Name    string `json:"name" form:"name"`
	Company string `json:"company" form:"company"`
	Phone   string `json:"phone" form:"phone"`
	Page    string `json:"page" form:"page"` // landing page slug
	// Score is added to an existing lead's score on resubmission.
	Score int `json:"score" form:"score" binding:"min=0,max=1000"`
}

// LeadCaptureResponse is returned to the landing page.
type LeadCaptureResponse struct {
	LeadID  uint   `json:"lead_id"`
	Created bool   `json:"created"`
	Message string `json:"message"`
}

// ClickQuery identifies a tracked campaign link.
type ClickQuery struct {
	ClientID uint   `form:"c" binding:"required"`
	LeadID   uint   `form:"l" binding:"required"`
	URL      string `form:"u" binding:"required,url"`
}
