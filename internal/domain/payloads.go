package domain

// UserRef is the recipient identity carried by account mails.
type UserRef struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// VerificationMailPayload is the payload of verification-mail jobs.
type VerificationMailPayload struct {
	User UserRef `json:"user"`
	URL  string  `json:"url"`
}

// ResetPasswordMailPayload is the payload of reset-password-mail jobs.
type ResetPasswordMailPayload struct {
	User UserRef `json:"user"`
	URL  string  `json:"url"`
}

// PrescriptionEmailPayload is the payload of prescription-email jobs.
type PrescriptionEmailPayload struct {
	AppointmentID string `json:"appointmentId"`
	PatientEmail  string `json:"patientEmail"`
	PatientName   string `json:"patientName"`
	DoctorName    string `json:"doctorName,omitempty"`
	Instructions  string `json:"instructions,omitempty"`
	IssuedAt      string `json:"issuedAt,omitempty"`
}

// PaymentSuccessPayload is the payload of payment-success jobs, built by
// the checkout webhook after the invoice has been produced.
type PaymentSuccessPayload struct {
	InvoiceNumber string  `json:"invoiceNumber"`
	DoctorName    string  `json:"doctorName"`
	PatientName   string  `json:"patientName"`
	PatientEmail  string  `json:"patientEmail"`
	TotalAmount   float64 `json:"totalAmount"`
	Status        string  `json:"status"`
	Message       string  `json:"message"`
	InvoiceURL    string  `json:"invoiceUrl"`
	PaymentTime   int64   `json:"paymentTime"`
}
