package chatstore

import (
	"context"
	"fmt"
	"time"

	domainSendMedia "github.com/flaviokalleu/whaticket/domains/sendmedia"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Contact es el registro persistido de un contacto de WhatsApp.
type Contact struct {
	ID        uint   `gorm:"primaryKey"`
	CompanyID uint   `gorm:"index"`
	Name      string `gorm:"size:255"`
	Number    string `gorm:"size:64;index"`
	RemoteJID string `gorm:"column:remote_jid;size:128"`
	IsGroup   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ticket es una conversación abierta con un contacto.
type Ticket struct {
	ID          uint   `gorm:"primaryKey"`
	ContactID   uint   `gorm:"index"`
	CompanyID   uint   `gorm:"index"`
	Status      string `gorm:"size:32;default:open"`
	LastMessage string `gorm:"size:512"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Message registra cada mensaje enviado, incluidos los privados.
type Message struct {
	ID        string `gorm:"primaryKey;size:128"`
	TicketID  uint   `gorm:"index"`
	ContactID uint
	CompanyID uint `gorm:"index"`
	Body      string
	MediaType string `gorm:"size:16"`
	MediaPath string `gorm:"size:512"`
	FromMe    bool
	IsPrivate bool
	CreatedAt time.Time
}

// Repository implementa los stores de mensajes, contactos y tickets sobre gorm.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) (*Repository, error) {
	if err := db.AutoMigrate(&Contact{}, &Ticket{}, &Message{}); err != nil {
		return nil, fmt.Errorf("chatstore migration failed: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) CreateMessage(ctx context.Context, msg domainSendMedia.Message) error {
	record := Message{
		ID:        msg.ID,
		TicketID:  msg.TicketID,
		ContactID: msg.ContactID,
		CompanyID: msg.CompanyID,
		Body:      msg.Body,
		MediaType: string(msg.MediaType),
		MediaPath: msg.MediaPath,
		FromMe:    msg.FromMe,
		IsPrivate: msg.IsPrivate,
		CreatedAt: msg.CreatedAt,
	}
	// Reintentos del caller no deben duplicar registros
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to persist message %s: %w", msg.ID, err)
	}
	return nil
}

func (r *Repository) FindContact(ctx context.Context, id uint) (domainSendMedia.Contact, error) {
	var record Contact
	if err := r.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return domainSendMedia.Contact{}, err
	}
	return domainSendMedia.Contact{
		ID:        record.ID,
		Name:      record.Name,
		Number:    record.Number,
		RemoteJID: record.RemoteJID,
		IsGroup:   record.IsGroup,
	}, nil
}

func (r *Repository) FindTicket(ctx context.Context, id uint) (domainSendMedia.Ticket, error) {
	var record Ticket
	if err := r.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return domainSendMedia.Ticket{}, err
	}
	return domainSendMedia.Ticket{
		ID:        record.ID,
		ContactID: record.ContactID,
		CompanyID: record.CompanyID,
		Status:    record.Status,
	}, nil
}

func (r *Repository) UpdateTicketLastMessage(ctx context.Context, ticketID uint, lastMessage string) error {
	result := r.db.WithContext(ctx).Model(&Ticket{}).
		Where("id = ?", ticketID).
		Updates(map[string]any{"last_message": lastMessage, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		logrus.Warnf("[CHATSTORE] Ticket %d not found while updating preview", ticketID)
	}
	return nil
}
