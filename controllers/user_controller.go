package controllers

import (
	"net/http"

	"resqlink/middleware"
	"resqlink/models"
	"resqlink/repositories"
	"resqlink/utils"

	"github.com/gin-gonic/gin"
)

type UserController struct {
	userRepo  *repositories.UserRepository
	validator *utils.ValidationService
}

func NewUserController(userRepo *repositories.UserRepository, validator *utils.ValidationService) *UserController {
	return &UserController{
		userRepo:  userRepo,
		validator: validator,
	}
}

// UpdateDeviceToken registers the caller's device for push delivery. A user
// has one token; a new registration replaces the previous device.
func (uc *UserController) UpdateDeviceToken(c *gin.Context) {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		utils.ErrorResponse(c, http.StatusUnauthorized, "Not authenticated", nil)
		return
	}

	var req models.UpdateDeviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if validationErrors := uc.validator.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	if err := uc.userRepo.UpdateDeviceToken(c.Request.Context(), userID, req.DeviceToken, req.DeviceType); err != nil {
		utils.ServiceErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, "Device token updated", nil)
}
