// Package flow implements the conversation state machine for the intake and
// service-menu flows.
//
// This file holds the prompt catalogue: every outbound text and button menu
// the machine can emit.
package flow

import "github.com/telepharma-bw/intakebot/internal/models"

// Reply is one outbound message: plain text, or a button menu when Buttons is set.
type Reply struct {
	Body    string
	Buttons []models.Button
}

// Button ids recognized by the service-menu sub-machine.
const (
	ButtonMedicationDelivery   = "medication_delivery"
	ButtonPharmacyConsultation = "pharmacy_consultation"
	ButtonDoctorConsultation   = "doctor_consultation"
	ButtonGeneralEnquiry       = "general_enquiry"
	ButtonPrescriptionMedicine = "prescription_medicine"
	ButtonOverTheCounter       = "over_the_counter_medicine"
	ButtonRequestOtherServices = "request_other_services"
	ButtonSpeakToPharmacist    = "speak_to_pharmacist"
)

// Intake prompts.
const (
	msgWelcome = "Hi! Thank you for contacting Telepharma Botswana. Let's start the registration process."

	msgAskFirstName        = "Please provide your first name."
	msgAskSurname          = "Please provide your surname."
	msgAskDateOfBirth      = "Please provide your date of birth in the format DD/MM/YYYY."
	msgAskProvider         = "Please select your medical aid provider from the options below:"
	msgAskMedicalAidNumber = "Please provide your medical aid number."
	msgAskScheme           = "Please provide your scheme, or select No Scheme if not applicable."
	msgAskDependantNumber  = "Please provide your dependant number, or select No Dependant if not applicable."

	msgInvalidName             = "Names may contain letters only. %s"
	msgInvalidDateOfBirth      = "That date doesn't match the format DD/MM/YYYY. " + msgAskDateOfBirth
	msgInvalidProvider         = "Please choose one of the listed medical aid providers."
	msgInvalidMedicalAidNumber = "A medical aid number contains digits only. " + msgAskMedicalAidNumber
	msgInvalidScheme           = "A scheme name contains letters and digits only. " + msgAskScheme
	msgInvalidDependantNumber  = "A dependant number contains digits only. " + msgAskDependantNumber
)

// Service-menu prompts.
const (
	msgRegistered         = "Thank you for registering! Now, please select from the services below:"
	msgServiceMenu        = "Please select from the services below:"
	msgMedicationType     = "Great! Please select the type of medication you need:"
	msgAskPrescription    = "Please upload a photo of your prescription or type it out."
	msgPrescriptionThanks = "Thank you for providing your prescription. We'll process your request, and a pharmacist will review it. Your medication will be delivered soon."
	msgAskOTC             = "Please provide the name or description of the over-the-counter medicine you need."
	msgAskConsultDetails  = "Please provide more details about your request, and a pharmacist will assist you shortly."
	msgConsultAck         = "Thank you. A pharmacist will review your request and assist you shortly."
	msgPostService        = "If you have any more questions or need assistance in the future, feel free to reach out."
	msgPharmacist         = "A pharmacist will be available to assist you shortly. Please provide any additional details or instructions you may have."

	// MsgMediaRetry is sent when a prescription image could not be retrieved.
	MsgMediaRetry = "We couldn't retrieve your prescription image. Please upload it again."
)

// providerButtons lists the fixed medical aid provider menu.
func providerButtons() []models.Button {
	buttons := make([]models.Button, 0, len(models.MedicalAidProviders))
	for _, p := range models.MedicalAidProviders {
		buttons = append(buttons, models.Button{ID: p, Title: p})
	}
	return buttons
}

func serviceMenuButtons() []models.Button {
	return []models.Button{
		{ID: ButtonMedicationDelivery, Title: "Medication Delivery"},
		{ID: ButtonPharmacyConsultation, Title: "Pharmacy Consultation"},
		{ID: ButtonDoctorConsultation, Title: "Doctor Consultation"},
		{ID: ButtonGeneralEnquiry, Title: "General Enquiry"},
	}
}

func medicationTypeButtons() []models.Button {
	return []models.Button{
		{ID: ButtonPrescriptionMedicine, Title: "Prescription Medicine"},
		{ID: ButtonOverTheCounter, Title: "Over-the-Counter Medicine"},
	}
}

func postServiceButtons() []models.Button {
	return []models.Button{
		{ID: ButtonRequestOtherServices, Title: "Request Other Services"},
		{ID: ButtonSpeakToPharmacist, Title: "Speak to a Pharmacist"},
	}
}

// promptFor returns the messages emitted on entering a stage.
func promptFor(stage models.Stage) []Reply {
	switch stage {
	case models.StageStart:
		return []Reply{{Body: msgWelcome}, {Body: msgAskFirstName}}
	case models.StageAwaitFirstName:
		return []Reply{{Body: msgAskFirstName}}
	case models.StageAwaitSurname:
		return []Reply{{Body: msgAskSurname}}
	case models.StageAwaitDateOfBirth:
		return []Reply{{Body: msgAskDateOfBirth}}
	case models.StageAwaitMedicalAidProv:
		return []Reply{{Body: msgAskProvider, Buttons: providerButtons()}}
	case models.StageAwaitMedicalAidNumber:
		return []Reply{{Body: msgAskMedicalAidNumber}}
	case models.StageAwaitScheme:
		return []Reply{{Body: msgAskScheme, Buttons: []models.Button{{ID: models.SentinelNoScheme, Title: "No Scheme"}}}}
	case models.StageAwaitDependantNumber:
		return []Reply{{Body: msgAskDependantNumber, Buttons: []models.Button{{ID: models.SentinelNoDependant, Title: "No Dependant"}}}}
	case models.StageServiceMenu:
		return []Reply{{Body: msgServiceMenu, Buttons: serviceMenuButtons()}}
	case models.StageMedicationDelivery:
		return []Reply{{Body: msgMedicationType, Buttons: medicationTypeButtons()}}
	case models.StageAwaitPrescriptionUpload:
		return []Reply{{Body: msgAskPrescription}}
	case models.StageAwaitOTCDescription:
		return []Reply{{Body: msgAskOTC}}
	case models.StagePharmacyConsultation, models.StageDoctorConsultation, models.StageGeneralEnquiry:
		return []Reply{{Body: msgAskConsultDetails}}
	case models.StagePostServiceMenu:
		return []Reply{{Body: msgPostService, Buttons: postServiceButtons()}}
	case models.StageAwaitingPharmacist:
		return []Reply{{Body: msgPharmacist}}
	}
	return nil
}
