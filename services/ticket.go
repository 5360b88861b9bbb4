package services

import (
	"fmt"

	"github.com/skip2/go-qrcode"

	"gameverse-api/models"
)

const ticketQRSize = 256

// TicketPayload is what the check-in scanner reads back
func TicketPayload(reg *models.EventRegistration) string {
	return fmt.Sprintf("gameverse://checkin/%s/%s", reg.EventID, reg.ID)
}

// TicketQRCode renders the registration's check-in ticket as a PNG
func TicketQRCode(reg *models.EventRegistration) ([]byte, error) {
	if !reg.IsActive() {
		return nil, fmt.Errorf("%w: registration is %s", ErrInvalidState, reg.Status)
	}
	png, err := qrcode.Encode(TicketPayload(reg), qrcode.Medium, ticketQRSize)
	if err != nil {
		return nil, fmt.Errorf("encode ticket: %w", err)
	}
	return png, nil
}
