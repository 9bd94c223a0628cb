package controllers

import (
	"net/http"

	"resqlink/middleware"
	"resqlink/models"
	"resqlink/services"
	"resqlink/utils"

	"github.com/gin-gonic/gin"
)

type LocationController struct {
	locationService *services.LocationService
	validator       *utils.ValidationService
}

func NewLocationController(locationService *services.LocationService, validator *utils.ValidationService) *LocationController {
	return &LocationController{
		locationService: locationService,
		validator:       validator,
	}
}

// UpdateVolunteerLocation ingests one en-route position sample. Throttled
// samples are accepted and silently dropped.
func (lc *LocationController) UpdateVolunteerLocation(c *gin.Context) {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}
	emergencyID := c.Param("id")

	var update models.VolunteerLocationUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if err := lc.locationService.RecordVolunteerLocation(c.Request.Context(), userID, emergencyID, update); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Location recorded", nil)
}

// UpdateMyLocation records the caller's position outside any incident.
func (lc *LocationController) UpdateMyLocation(c *gin.Context) {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	var location models.GeoPoint
	if err := c.ShouldBindJSON(&location); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if err := lc.locationService.UpdateUserLocation(c.Request.Context(), userID, location); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Location updated", nil)
}
