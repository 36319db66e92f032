package core

// layout.go documents the positional layout of the two source formats.
//
// Both formats are ';'-delimited, double-quoted, ISO-8859-1 encoded and have
// no header row. The offsets below are the columns this loader reads; every
// other column is ignored. They match the layout used by the tables already
// populated from these files, so they must not be "corrected" in place: the
// published Receita Federal layout numbers some of these columns one lower.
//
// EMPRECSV (Company):
//
//	0  cnpj_basico               required
//	1  razao_social              required
//	2  natureza_juridica
//	3  qualificacao_responsavel
//	5  capital_social            decimal, ',' as separator
//	6  porte_empresa
//	7  ente_federativo
//
// ESTABELE (Establishment):
//
//	0  cnpj_basico      8  (unused)       14  tipo_logradouro  21  uf
//	1  cnpj_ordem       9  (unused)       15  logradouro       28  email
//	2  cnpj_dv         10  (unused)       19  bairro
//	3  matriz/filial   11  cnae_principal 20  cep
//	4  nome_fantasia
//	5  situacao_cadastral
//	6  data_situacao_cadastral
const (
	companyBaseCNPJ             = 0
	companyLegalName            = 1
	companyLegalNature          = 2
	companyResponsibleQualifier = 3
	companyCapital              = 5
	companySize                 = 6
	companyFederativeEntity     = 7

	// CompanyMinFields is the shortest accepted EMPRECSV line.
	CompanyMinFields = 7
)

const (
	estabBaseCNPJ        = 0
	estabOrder           = 1
	estabCheckDigits     = 2
	estabHeadOffice      = 3
	estabTradeName       = 4
	estabStatus          = 5
	estabStatusDate      = 6
	estabPrimaryActivity = 11
	estabStreetType      = 14
	estabStreet          = 15
	estabNeighborhood    = 19
	estabPostalCode      = 20
	estabState           = 21
	estabEmail           = 28

	// EstablishmentMinFields is the shortest accepted ESTABELE line.
	EstablishmentMinFields = 14
)

// fieldAt returns fields[i], or "" when the line is too short.
func fieldAt(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}
