package controllers

import (
	"net/http"

	"resqlink/middleware"
	"resqlink/models"
	"resqlink/services"
	"resqlink/utils"

	"github.com/gin-gonic/gin"
)

type EmergencyController struct {
	emergencyService *services.EmergencyService
	validator        *utils.ValidationService
}

func NewEmergencyController(emergencyService *services.EmergencyService, validator *utils.ValidationService) *EmergencyController {
	return &EmergencyController{
		emergencyService: emergencyService,
		validator:        validator,
	}
}

// CreateEmergency opens a new incident for the caller. Returns the
// caller's existing live incident instead of creating a second one.
func (ec *EmergencyController) CreateEmergency(c *gin.Context) {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	var req models.CreateEmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if validationErrors := ec.validator.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	emergency, err := ec.emergencyService.CreateEmergency(c.Request.Context(), userID, req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.CreatedResponse(c, "Emergency created", emergency)
}

// AcceptEmergency registers the caller as a responder.
func (ec *EmergencyController) AcceptEmergency(c *gin.Context) {
	userID, _ := middleware.GetCurrentUserID(c)
	emergencyID := c.Param("id")

	var req models.AcceptEmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	emergency, err := ec.emergencyService.AcceptEmergency(c.Request.Context(), userID, emergencyID, req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Emergency accepted", emergency)
}

// MarkArrived moves the incident to in-progress.
func (ec *EmergencyController) MarkArrived(c *gin.Context) {
	userID, _ := middleware.GetCurrentUserID(c)
	emergencyID := c.Param("id")

	emergency, err := ec.emergencyService.MarkArrived(c.Request.Context(), userID, emergencyID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Arrival recorded", emergency)
}

// VerifyEmergency records the on-scene assessment.
func (ec *EmergencyController) VerifyEmergency(c *gin.Context) {
	userID, _ := middleware.GetCurrentUserID(c)
	emergencyID := c.Param("id")

	var req models.VerifyEmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	emergency, err := ec.emergencyService.VerifyEmergency(c.Request.Context(), userID, emergencyID, req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Emergency verified", emergency)
}

// EscalateEmergency raises the incident and pages organizers.
func (ec *EmergencyController) EscalateEmergency(c *gin.Context) {
	userID, _ := middleware.GetCurrentUserID(c)
	emergencyID := c.Param("id")

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Escalation reason is required", err.Error())
		return
	}

	emergency, err := ec.emergencyService.EscalateEmergency(c.Request.Context(), userID, emergencyID, req.Reason)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Emergency escalated", emergency)
}

// UpdateVolunteerStatus applies a responder sub-status change.
func (ec *EmergencyController) UpdateVolunteerStatus(c *gin.Context) {
	userID, _ := middleware.GetCurrentUserID(c)
	emergencyID := c.Param("id")

	var req models.UpdateVolunteerStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if validationErrors := ec.validator.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	if err := ec.emergencyService.UpdateVolunteerStatus(c.Request.Context(), userID, emergencyID, req); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Status updated", nil)
}

// AttendeeResolve records the reporter's resolution acknowledgement.
func (ec *EmergencyController) AttendeeResolve(c *gin.Context) {
	userID, _ := middleware.GetCurrentUserID(c)
	emergencyID := c.Param("id")

	var req models.ResolveEmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	emergency, err := ec.emergencyService.AttendeeResolve(c.Request.Context(), userID, emergencyID, req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Resolution acknowledged", emergency)
}

// VolunteerResolve records a responder's completion acknowledgement.
func (ec *EmergencyController) VolunteerResolve(c *gin.Context) {
	userID, _ := middleware.GetCurrentUserID(c)
	emergencyID := c.Param("id")

	var req models.ResolveEmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	emergency, err := ec.emergencyService.VolunteerResolve(c.Request.Context(), userID, emergencyID, req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Completion acknowledged", emergency)
}

// CancelEmergency force-resolves the caller's incident.
func (ec *EmergencyController) CancelEmergency(c *gin.Context) {
	userID, _ := middleware.GetCurrentUserID(c)
	emergencyID := c.Param("id")

	var req models.CancelEmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Cancellation reason is required", err.Error())
		return
	}
	if validationErrors := ec.validator.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	emergency, err := ec.emergencyService.CancelEmergency(c.Request.Context(), userID, emergencyID, req)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Emergency cancelled", emergency)
}

// GetEmergency returns one incident.
func (ec *EmergencyController) GetEmergency(c *gin.Context) {
	emergency, err := ec.emergencyService.GetEmergency(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, "Emergency retrieved", emergency)
}

// GetActiveEmergency returns the caller's live incident, if any.
func (ec *EmergencyController) GetActiveEmergency(c *gin.Context) {
	userID, _ := middleware.GetCurrentUserID(c)

	emergency, err := ec.emergencyService.GetActiveForReporter(c.Request.Context(), userID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}
	if emergency == nil {
		utils.SuccessResponse(c, "No active emergency", nil)
		return
	}
	utils.SuccessResponse(c, "Active emergency retrieved", emergency)
}

// GetGroupEmergencies lists a group's incidents.
func (ec *EmergencyController) GetGroupEmergencies(c *gin.Context) {
	userID, _ := middleware.GetCurrentUserID(c)

	emergencies, err := ec.emergencyService.GetGroupEmergencies(c.Request.Context(), userID, c.Param("groupId"))
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, "Group emergencies retrieved", emergencies)
}

// GetMyResponses lists incidents the caller is responding to.
func (ec *EmergencyController) GetMyResponses(c *gin.Context) {
	userID, _ := middleware.GetCurrentUserID(c)

	emergencies, err := ec.emergencyService.GetVolunteerEmergencies(c.Request.Context(), userID)
	if err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}
	utils.SuccessResponse(c, "Responses retrieved", emergencies)
}
