package channels

// builtin is the production channel table. Aliases carry the ids used by
// older dashboard builds.
var builtin = []Channel{
	{
		ID:                 "chat",
		Aliases:            []string{"yelena", "af1e5797-edc6-4ba3-a57a-25cf7297c4d6"},
		Name:               "Yelena AI",
		TableName:          "yelena_ai_conversas",
		AgentPrefix:        "agent_",
		AgentName:          "Yelena-AI",
		DefaultContactName: "Cliente",
		GatewayInstance:    "yelena",
	},
	{
		ID:                 "canarana",
		Aliases:            []string{"011b69ba-cf25-4f63-af2e-4ad0260d9516"},
		Name:               "Canarana",
		TableName:          "canarana_conversas",
		AgentPrefix:        "agent_",
		AgentName:          "Óticas Villa Glamour Canarana",
		DefaultContactName: "Cliente Canarana",
		GatewayInstance:    "canarana",
	},
	{
		ID:                 "souto-soares",
		Aliases:            []string{"b7996f75-41a7-4725-8229-564f31868027"},
		Name:               "Souto Soares",
		TableName:          "souto_soares_conversas",
		AgentPrefix:        "agent_",
		AgentName:          "Óticas Villa Glamour Souto Soares",
		DefaultContactName: "Cliente Souto Soares",
		GatewayInstance:    "souto-soares",
	},
	{
		ID:                 "joao-dourado",
		Aliases:            []string{"621abb21-60b2-4ff2-a0a6-172a94b4b65c"},
		Name:               "João Dourado",
		TableName:          "joao_dourado_conversas",
		AgentPrefix:        "agent_",
		AgentName:          "Óticas Villa Glamour João Dourado",
		DefaultContactName: "Cliente João Dourado",
		GatewayInstance:    "joao-dourado",
	},
	{
		ID:                 "america-dourada",
		Aliases:            []string{"64d8acad-c645-4544-a1e6-2f0825fae00b"},
		Name:               "América Dourada",
		TableName:          "america_dourada_conversas",
		AgentPrefix:        "agent_",
		AgentName:          "Óticas Villa Glamour América Dourada",
		DefaultContactName: "Cliente América Dourada",
		GatewayInstance:    "america-dourada",
	},
	{
		ID:                 "gerente-lojas",
		Aliases:            []string{"gerente-loja", "d8087e7b-5b06-4e26-aa05-6fc51fd4cdce"},
		Name:               "Gerente das Lojas",
		TableName:          "gerente_lojas_conversas",
		AgentPrefix:        "agent_",
		AgentName:          "Gerente das Lojas",
		DefaultContactName: "Loja",
		GatewayInstance:    "gerente-lojas",
		Identity: &IdentityRule{
			BrandLiterals: []string{"Óticas Villa Glamour", "Villa Glamour"},
			BrandName:     "Óticas Villa Glamour",
			FallbackPhone: "557734400000",
		},
	},
	{
		ID:                 "gerente-externo",
		Aliases:            []string{"d2892900-ca8f-4b08-a73f-6b7aa5866ff7"},
		Name:               "Gerente Externo",
		TableName:          "gerente_externo_conversas",
		AgentPrefix:        "agent_",
		AgentName:          "Andressa",
		DefaultContactName: "Cliente Externo",
		GatewayInstance:    "gerente-externo",
		Identity: &IdentityRule{
			SuffixMarker: "-andressa",
		},
	},
	{
		ID:                 "pedro",
		Aliases:            []string{"1e233898-5235-40d7-bf9c-55d46e4c16a1"},
		Name:               "Pedro",
		TableName:          "pedro_conversas",
		AgentPrefix:        "agent_",
		AgentName:          "Pedro",
		DefaultContactName: "Cliente",
		GatewayInstance:    "pedro",
	},
}
