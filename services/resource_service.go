package services

import (
	"errors"
	"log"
	"time"

	"arena-ledger-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// ResourceService owns admin provisioning of resources and tournaments. The
// hot-path operations (reserve/cancel/distribute) live on the arbiter and
// distributor; this service only creates and reads the rows they guard.
type ResourceService struct {
	DB *gorm.DB
}

func NewResourceService(db *gorm.DB) *ResourceService {
	return &ResourceService{DB: db}
}

// CreateResource provisions a capacity pool (Admin only)
func (s *ResourceService) CreateResource(c *fiber.Ctx) error {
	var req struct {
		Name         string              `json:"name" validate:"required"`
		Type         models.ResourceType `json:"type" validate:"required,oneof=enrollment_slot booking_slot"`
		Capacity     int                 `json:"capacity"`
		UnitCost     int64               `json:"unit_cost"`
		TournamentID string              `json:"tournament_id,omitempty"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}
	if req.Type != models.ResourceTypeEnrollmentSlot && req.Type != models.ResourceTypeBookingSlot {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "type must be enrollment_slot or booking_slot"})
	}
	if req.Capacity < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "capacity must be a non-negative integer"})
	}
	if req.UnitCost < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unit_cost must be non-negative"})
	}

	res := &models.Resource{
		ID:       uuid.NewString(),
		Code:     slug.Make(req.Name),
		Name:     req.Name,
		Type:     req.Type,
		Capacity: req.Capacity,
		UnitCost: req.UnitCost,
	}
	if req.TournamentID != "" {
		if err := s.DB.First(&models.Tournament{}, "id = ?", req.TournamentID).Error; err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tournament_id not found"})
		}
		res.TournamentID = &req.TournamentID
	}

	if err := s.DB.Create(res).Error; err != nil {
		log.Printf("DB Error creating resource: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create resource"})
	}
	res.AvailableSlots = res.Capacity - res.Consumed
	return c.Status(fiber.StatusCreated).JSON(res)
}

// GetResource returns one resource with its live slot availability
func (s *ResourceService) GetResource(c *fiber.Ctx) error {
	id := c.Params("id")
	var res models.Resource
	if err := s.DB.Where("id = ? OR code = ?", id, id).First(&res).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "resource not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	res.AvailableSlots = res.Capacity - res.Consumed
	return c.JSON(res)
}

// ListReservations returns a resource's reservations, newest first
func (s *ResourceService) ListReservations(c *fiber.Ctx) error {
	resourceID := c.Params("id")
	var resvs []models.Reservation
	if err := s.DB.Where("resource_id = ?", resourceID).
		Order("created_at DESC").
		Find(&resvs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch reservations"})
	}
	return c.JSON(resvs)
}

// CreateTournament registers a tournament with its reward budget (Admin only).
// An enrollment resource is provisioned alongside it in the same transaction.
func (s *ResourceService) CreateTournament(c *fiber.Ctx) error {
	var req struct {
		Name      string `json:"name" validate:"required"`
		EntryFee  int64  `json:"entry_fee"`
		BasePrize int64  `json:"base_prize"`
		BaseXP    int64  `json:"base_xp"`
		MaxSlots  int    `json:"max_slots"`
		StartTime string `json:"start_time" validate:"required"` // RFC3339
		EndTime   string `json:"end_time"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if req.Name == "" || req.StartTime == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name and start_time are required"})
	}
	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid start_time (use RFC3339)"})
	}
	var endTime time.Time
	if req.EndTime != "" {
		endTime, err = time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid end_time (use RFC3339)"})
		}
	}
	if req.EntryFee < 0 || req.BasePrize < 0 || req.BaseXP < 0 || req.MaxSlots < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "fees, rewards and max_slots must be non-negative"})
	}

	t := &models.Tournament{
		ID:        uuid.NewString(),
		Code:      slug.Make(req.Name),
		Name:      req.Name,
		Status:    models.TournamentDraft,
		EntryFee:  req.EntryFee,
		BasePrize: req.BasePrize,
		BaseXP:    req.BaseXP,
		StartTime: startTime,
		EndTime:   endTime,
	}
	res := &models.Resource{
		ID:           uuid.NewString(),
		Code:         slug.Make(req.Name + " enrollment"),
		Name:         req.Name + " enrollment",
		Type:         models.ResourceTypeEnrollmentSlot,
		Capacity:     req.MaxSlots,
		UnitCost:     req.EntryFee,
		TournamentID: &t.ID,
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return tx.Create(res).Error
	})
	if err != nil {
		log.Printf("DB Error creating tournament: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB insert failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"tournament": t, "enrollment_resource": res})
}

// UpdateTournamentStatus moves a tournament through its lifecycle (Admin only)
func (s *ResourceService) UpdateTournamentStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	var req struct {
		Status models.TournamentStatus `json:"status" validate:"required,oneof=draft active finalizing completed cancelled"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	switch req.Status {
	case models.TournamentDraft, models.TournamentActive, models.TournamentFinalizing,
		models.TournamentCompleted, models.TournamentCancelled:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid status"})
	}
	result := s.DB.Model(&models.Tournament{}).Where("id = ?", id).Update("status", req.Status)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB update failed"})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "tournament not found"})
	}
	var updated models.Tournament
	s.DB.First(&updated, "id = ?", id)
	return c.JSON(updated)
}

// UpsertStandings ingests the finalized standing for a tournament (written by
// the match service before finalization). Idempotent per participant.
func (s *ResourceService) UpsertStandings(c *fiber.Ctx) error {
	tournamentID := c.Params("id")
	var req struct {
		Standings []struct {
			ParticipantID string `json:"participant_id" validate:"required"`
			FinalRank     int    `json:"final_rank" validate:"required"`
			Score         int64  `json:"score"`
		} `json:"standings" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON"})
	}
	if err := s.DB.First(&models.Tournament{}, "id = ?", tournamentID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "tournament not found"})
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		for _, st := range req.Standings {
			if st.ParticipantID == "" || st.FinalRank < 1 {
				return errors.New("each standing needs participant_id and final_rank >= 1")
			}
			row := models.TournamentStanding{
				ID:            uuid.NewString(),
				TournamentID:  tournamentID,
				ParticipantID: st.ParticipantID,
				FinalRank:     st.FinalRank,
				Score:         st.Score,
			}
			result := tx.Model(&models.TournamentStanding{}).
				Where("tournament_id = ? AND participant_id = ?", tournamentID, st.ParticipantID).
				Updates(map[string]interface{}{"final_rank": st.FinalRank, "score": st.Score})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("DB Error upserting standings for %s: %v", tournamentID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save standings"})
	}
	return c.JSON(fiber.Map{"message": "standings saved", "count": len(req.Standings)})
}
