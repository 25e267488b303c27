package i18n

var ptBRMessages = map[Code]string{
	CodeUnknown:              "Ocorreu um erro inesperado.",
	CodeConfigurationInvalid: "O registro de handlers está mal configurado.",
	CodeCapabilityViolation:  "O handler {{.Handler}} usou uma capacidade não declarada.",
	CodeHandlerFailed:        "O handler {{.Handler}} rejeitou {{.Type}}.",
	CodeHandlerTimeout:       "O handler {{.Handler}} não terminou a tempo.",
	CodeCycleLimitExceeded:   "O processamento parou após {{.Limit}} despachos.",
	CodeDispatchCancelled:    "O processamento foi cancelado.",
	CodeCommandTypeUnknown:   "Tipo de comando desconhecido {{.Type}}.",
	CodePayloadInvalid:       "O payload de {{.Type}} é inválido.",
	CodeNotFound:             "O registro solicitado não foi encontrado.",
	CodeFilterInvalid:        "A expressão de filtro é inválida.",
	CodePageTokenInvalid:     "O token de página é inválido ou pertence a outro filtro.",
}
