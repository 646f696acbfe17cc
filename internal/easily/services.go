package easily

import "strings"

// letterTypeServices maps a letter form name to the reporting service.
var letterTypeServices = map[string]string{
	"CR Lettre de Liaison Chirurgie Vasculaire Foch":             "VASCULAIRE",
	"CR Lettre de Liaison Chirurgie Urologique Foch":             "UROLOGIE",
	"CR Lettre de Liaison Réa Foch":                              "REANIMATION",
	"CR Lettre de Liaison ORL Foch":                              "ORL",
	"CR Lettre de Liaison Oncologie Foch":                        "ONCOLOGIE",
	"CR HDJ Oncologie Foch":                                      "ONCOLOGIE",
	"CR Lettre de Liaison Chirurgie Digestive Foch":              "DIGESTIF",
	"CR HDJ Endoscopie Digestive Foch":                           "ENDODIG",
	"CR Lettre de Liaison Cardiologie Foch":                      "CARDIOLOGIE",
	"CR Lettre de Liaison Unité Vanderbilt Foch":                 "VANDERBILDT",
	"CR Lettre de Liaison UPHU Foch":                             "UPHU",
	"CR Lettre de Liaison Throm Foch":                            "NEUROLOGIE",
	"CR Lettre de Liaison Throm SG Foch":                         "NEUROLOGIE",
	"CR Lettre de Liaison Foch DOG":                              "OBSTETRIQUE",
	"CR Lettre de Liaison Pédiatrie Foch":                        "NEONATOLOGIE",
	"CR Lettre de Liaison Gynécologie Foch":                      "GYNECOLOGIE",
	"CR Lettre de Liaison Chirurgie Thoracique Foch":             "THORACIQUE",
	"CR Lettre de Liaison Gériatrie Foch":                        "GERIATRIE",
	"CR Lettre de Liaison M.P.R Foch":                            "MPR",
	"CR Lettre de Liaison SSPI Foch":                             "ANESTHESIE",
	"CR Lettre de Liaison Médecine interne et Polyvalente Foch": "MEDECINE INTERNE ET POLYVALENTE",
	"CR Lettre de Liaison Diabétologie Foch":                     "MEDECINE INTERNE",
	"CR Lettre de Liaison NRDT Foch":                             "NEUROCHIRURGIE",
	"CR Lettre de Liaison Neurochirurgie Foch":                   "NEUROCHIRURGIE",
	"CR Urgences":                                                "URGENCES",
}

const (
	usirLetterType     = "CR Lettre de Liaison USIR Foch"
	thoracicFolderName = "Chirurgie Thoracique Foch"
)

// ServiceCode derives the reporting service of a letter from its form name,
// falling back to the service attached to its specialty folder.
func ServiceCode(letterType, specialtyFolder, folderService string) string {
	letterType = strings.TrimSpace(letterType)
	if service, ok := letterTypeServices[letterType]; ok {
		return service
	}
	if letterType == usirLetterType && strings.TrimSpace(specialtyFolder) == thoracicFolderName {
		return "THORACIQUE"
	}
	return strings.TrimSpace(folderService)
}
