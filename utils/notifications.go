package utils

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"google.golang.org/api/option"
)

type NotificationService struct {
	fcmClient    *messaging.Client
	twilioClient *twilio.RestClient
	twilioNumber string
}

type PushNotification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
	Sound string            `json:"sound,omitempty"`
}

type SMSMessage struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type NotificationResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

func NewNotificationService(firebaseCredentials, twilioSID, twilioToken, twilioNumber string) (*NotificationService, error) {
	// Initialize Firebase
	opt := option.WithCredentialsFile(firebaseCredentials)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase: %v", err)
	}

	fcmClient, err := app.Messaging(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize FCM client: %v", err)
	}

	// Initialize Twilio
	twilioClient := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: twilioSID,
		Password: twilioToken,
	})

	return &NotificationService{
		fcmClient:    fcmClient,
		twilioClient: twilioClient,
		twilioNumber: twilioNumber,
	}, nil
}

// Push Notifications
func (ns *NotificationService) SendPushNotification(ctx context.Context, deviceToken string, notification PushNotification) (*NotificationResult, error) {
	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Body,
		},
		Data: notification.Data,
		Android: &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{
				Sound: notification.Sound,
				Icon:  "ic_notification",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: notification.Title,
						Body:  notification.Body,
					},
					Sound: notification.Sound,
				},
			},
		},
	}

	response, err := ns.fcmClient.Send(ctx, message)
	if err != nil {
		return &NotificationResult{
			Success: false,
			Error:   err.Error(),
		}, err
	}

	return &NotificationResult{
		Success:   true,
		MessageID: response,
	}, nil
}

func (ns *NotificationService) SendPushToMultipleDevices(ctx context.Context, deviceTokens []string, notification PushNotification) ([]*NotificationResult, error) {
	// Single-token sends go through Send, which carries the per-platform
	// sound configuration that MulticastMessage omits.
	if len(deviceTokens) == 1 {
		result, _ := ns.SendPushNotification(ctx, deviceTokens[0], notification)
		return []*NotificationResult{result}, nil
	}

	message := &messaging.MulticastMessage{
		Tokens: deviceTokens,
		Notification: &messaging.Notification{
			Title: notification.Title,
			Body:  notification.Body,
		},
		Data: notification.Data,
	}

	response, err := ns.fcmClient.SendMulticast(ctx, message)
	if err != nil {
		return nil, err
	}

	results := make([]*NotificationResult, len(deviceTokens))
	for i, resp := range response.Responses {
		if resp.Success {
			results[i] = &NotificationResult{
				Success:   true,
				MessageID: resp.MessageID,
			}
		} else {
			results[i] = &NotificationResult{
				Success: false,
				Error:   resp.Error.Error(),
			}
		}
	}

	return results, nil
}

// SMS Notifications
func (ns *NotificationService) SendSMS(ctx context.Context, sms SMSMessage) (*NotificationResult, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(sms.To)
	params.SetFrom(ns.twilioNumber)
	params.SetBody(sms.Message)

	resp, err := ns.twilioClient.Api.CreateMessage(params)
	if err != nil {
		return &NotificationResult{
			Success: false,
			Error:   err.Error(),
		}, err
	}

	return &NotificationResult{
		Success:   true,
		MessageID: *resp.Sid,
	}, nil
}

// Notification Templates

func CreateEmergencyAlertNotification(reporterName, emergencyID, distanceText string, lat, lon float64) PushNotification {
	body := fmt.Sprintf("%s needs help", reporterName)
	if distanceText != "" {
		body = fmt.Sprintf("%s needs help - %s", reporterName, distanceText)
	}

	return PushNotification{
		Title: "🚨 EMERGENCY ALERT",
		Body:  body,
		Data: map[string]string{
			"type":        "emergency_alert",
			"emergencyId": emergencyID,
			"latitude":    fmt.Sprintf("%.6f", lat),
			"longitude":   fmt.Sprintf("%.6f", lon),
			"priority":    "high",
		},
		Sound: "emergency",
	}
}

func CreateVolunteerStatusNotification(volunteerName, status, emergencyID string) PushNotification {
	var body string

	switch status {
	case "responding":
		body = fmt.Sprintf("%s is responding to your emergency", volunteerName)
	case "enRoute":
		body = fmt.Sprintf("%s is on the way", volunteerName)
	case "arrived":
		body = fmt.Sprintf("%s has arrived", volunteerName)
	case "verified":
		body = fmt.Sprintf("%s verified your emergency", volunteerName)
	case "assisting":
		body = fmt.Sprintf("%s is assisting you", volunteerName)
	case "completed":
		body = fmt.Sprintf("%s has completed their response", volunteerName)
	case "unavailable":
		body = fmt.Sprintf("%s is no longer available", volunteerName)
	default:
		body = fmt.Sprintf("%s updated their status", volunteerName)
	}

	return PushNotification{
		Title: "Volunteer Update",
		Body:  body,
		Data: map[string]string{
			"type":        "volunteer_status",
			"emergencyId": emergencyID,
			"status":      status,
		},
		Sound: "default",
	}
}

func CreateResolutionNotification(emergencyID string, fullyResolved bool) PushNotification {
	if fullyResolved {
		return PushNotification{
			Title: "✅ Emergency Resolved",
			Body:  "Both parties confirmed - the emergency is fully resolved",
			Data: map[string]string{
				"type":        "emergency_resolved",
				"emergencyId": emergencyID,
			},
			Sound: "default",
		}
	}

	return PushNotification{
		Title: "Please Confirm Resolution",
		Body:  "The other party marked this emergency resolved - please confirm",
		Data: map[string]string{
			"type":        "resolution_confirm",
			"emergencyId": emergencyID,
		},
		Sound: "default",
	}
}

func CreateCancellationNotification(reporterName, emergencyID, reason string) PushNotification {
	body := fmt.Sprintf("%s cancelled their emergency", reporterName)
	if reason != "" {
		body = fmt.Sprintf("%s cancelled their emergency: %s", reporterName, reason)
	}

	return PushNotification{
		Title: "Emergency Cancelled",
		Body:  body,
		Data: map[string]string{
			"type":        "emergency_cancelled",
			"emergencyId": emergencyID,
		},
		Sound: "default",
	}
}

func CreateEscalationSMS(reporterName, emergencyID string, lat, lon float64) string {
	return fmt.Sprintf(
		"ESCALATED EMERGENCY: %s needs urgent help at (%.5f, %.5f). Incident %s.",
		reporterName, lat, lon, emergencyID,
	)
}
