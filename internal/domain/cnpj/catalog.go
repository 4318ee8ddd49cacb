package cnpj

import "strings"

// Classification is the file-type tag assigned to an upstream archive.
type Classification string

const (
	ClassActivity      Classification = "activity"
	ClassMunicipality  Classification = "municipality"
	ClassStatusReason  Classification = "status-reason"
	ClassLegalNature   Classification = "legal-nature"
	ClassCountry       Classification = "country"
	ClassQualification Classification = "qualification"
	ClassSimples       Classification = "simples"
	ClassEstablishment Classification = "establishment"
	ClassEntity        Classification = "entity"
	ClassPartner       Classification = "partner"
	ClassUnclassified  Classification = "unclassified"
)

type classificationRule struct {
	substrings []string
	class      Classification
}

// Order matters: first match wins.
var classificationRules = []classificationRule{
	{[]string{"cnae"}, ClassActivity},
	{[]string{"munic"}, ClassMunicipality},
	{[]string{"motiv"}, ClassStatusReason},
	{[]string{"natur"}, ClassLegalNature},
	{[]string{"pais"}, ClassCountry},
	{[]string{"qual"}, ClassQualification},
	{[]string{"simples", "simei"}, ClassSimples},
	{[]string{"estabelec"}, ClassEstablishment},
	{[]string{"empresa"}, ClassEntity},
	{[]string{"socio"}, ClassPartner},
}

// Classify tags an archive name by case-insensitive substring matching.
func Classify(name string) Classification {
	lower := strings.ToLower(name)
	for _, rule := range classificationRules {
		for _, s := range rule.substrings {
			if strings.Contains(lower, s) {
				return rule.class
			}
		}
	}
	return ClassUnclassified
}

// Stage is the position of a table in the dependency order.
type Stage int

const (
	StageAuxiliary Stage = iota
	StageEntities
	StageEstablishments
	StagePartners
	StageSimples
)

// Stages lists every stage, leaves first.
var Stages = []Stage{StageAuxiliary, StageEntities, StageEstablishments, StagePartners, StageSimples}

// StageWeights is the share of overall progress each stage accounts for, in percent.
var StageWeights = map[Stage]float64{
	StageAuxiliary:      5,
	StageEntities:       20,
	StageEstablishments: 40,
	StagePartners:       25,
	StageSimples:        10,
}

func (s Stage) String() string {
	switch s {
	case StageAuxiliary:
		return "auxiliary"
	case StageEntities:
		return "entities"
	case StageEstablishments:
		return "establishments"
	case StagePartners:
		return "partners"
	case StageSimples:
		return "simples"
	default:
		return "unknown"
	}
}

type ColumnKind int

const (
	KindText ColumnKind = iota
	KindDate
	KindDecimal
)

// Column is one position of a headerless CSV row. References names the
// auxiliary table a foreign-key column points at.
type Column struct {
	Name       string
	Kind       ColumnKind
	References string
}

type LoadPolicy int

const (
	// PolicyDedupe appends rows and skips primary-key conflicts.
	PolicyDedupe LoadPolicy = iota
	// PolicyReplace deletes the table content before loading.
	PolicyReplace
)

type Table struct {
	Name           string
	Classification Classification
	Stage          Stage
	Columns        []Column
	PrimaryKey     []string
	Policy         LoadPolicy
}

func (t Table) IsAuxiliary() bool {
	return t.Stage == StageAuxiliary
}

func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

// ForeignKeys maps column positions to the auxiliary table they reference.
func (t Table) ForeignKeys() map[int]string {
	fks := make(map[int]string)
	for i, c := range t.Columns {
		if c.References != "" {
			fks[i] = c.References
		}
	}
	return fks
}

const (
	TableActivities     = "cnaes"
	TableMunicipalities = "municipios"
	TableStatusReasons  = "motivos"
	TableLegalNatures   = "naturezas"
	TableCountries      = "paises"
	TableQualifications = "qualificacoes"
	TableEntities       = "empresas"
	TableEstablishments = "estabelecimentos"
	TablePartners       = "socios"
	TableSimples        = "simples"
)

func auxTable(name string, class Classification) Table {
	return Table{
		Name:           name,
		Classification: class,
		Stage:          StageAuxiliary,
		Columns:        []Column{{Name: "codigo"}, {Name: "descricao"}},
		PrimaryKey:     []string{"codigo"},
		Policy:         PolicyReplace,
	}
}

func text(name string) Column { return Column{Name: name} }

func date(name string) Column { return Column{Name: name, Kind: KindDate} }

func ref(name, table string) Column { return Column{Name: name, References: table} }

// Catalog is the fixed set of target tables in dependency order.
var Catalog = []Table{
	auxTable(TableActivities, ClassActivity),
	auxTable(TableMunicipalities, ClassMunicipality),
	auxTable(TableStatusReasons, ClassStatusReason),
	auxTable(TableLegalNatures, ClassLegalNature),
	auxTable(TableCountries, ClassCountry),
	auxTable(TableQualifications, ClassQualification),
	{
		Name:           TableEntities,
		Classification: ClassEntity,
		Stage:          StageEntities,
		Columns: []Column{
			text("cnpj_basico"),
			text("razao_social"),
			ref("natureza_juridica", TableLegalNatures),
			ref("qualificacao_responsavel", TableQualifications),
			{Name: "capital_social", Kind: KindDecimal},
			text("porte_empresa"),
			text("ente_federativo_responsavel"),
		},
		PrimaryKey: []string{"cnpj_basico"},
	},
	{
		Name:           TableEstablishments,
		Classification: ClassEstablishment,
		Stage:          StageEstablishments,
		Columns: []Column{
			text("cnpj_basico"),
			text("cnpj_ordem"),
			text("cnpj_dv"),
			text("identificador_matriz_filial"),
			text("nome_fantasia"),
			text("situacao_cadastral"),
			date("data_situacao_cadastral"),
			ref("motivo_situacao_cadastral", TableStatusReasons),
			text("nome_cidade_exterior"),
			ref("pais", TableCountries),
			date("data_inicio_atividade"),
			ref("cnae_fiscal_principal", TableActivities),
			text("cnae_fiscal_secundaria"),
			text("tipo_logradouro"),
			text("logradouro"),
			text("numero"),
			text("complemento"),
			text("bairro"),
			text("cep"),
			text("uf"),
			ref("municipio", TableMunicipalities),
			text("ddd_1"),
			text("telefone_1"),
			text("ddd_2"),
			text("telefone_2"),
			text("ddd_fax"),
			text("fax"),
			text("correio_eletronico"),
			text("situacao_especial"),
			date("data_situacao_especial"),
		},
		PrimaryKey: []string{"cnpj_basico", "cnpj_ordem", "cnpj_dv"},
	},
	{
		Name:           TablePartners,
		Classification: ClassPartner,
		Stage:          StagePartners,
		Columns: []Column{
			text("cnpj_basico"),
			text("identificador_socio"),
			text("nome_socio"),
			text("cnpj_cpf_socio"),
			ref("qualificacao_socio", TableQualifications),
			date("data_entrada_sociedade"),
			ref("pais", TableCountries),
			text("representante_legal"),
			text("nome_representante"),
			ref("qualificacao_representante_legal", TableQualifications),
			text("faixa_etaria"),
		},
		PrimaryKey: []string{"cnpj_basico", "identificador_socio", "cnpj_cpf_socio"},
	},
	{
		Name:           TableSimples,
		Classification: ClassSimples,
		Stage:          StageSimples,
		Columns: []Column{
			text("cnpj_basico"),
			text("opcao_pelo_simples"),
			date("data_opcao_simples"),
			date("data_exclusao_simples"),
			text("opcao_mei"),
			date("data_opcao_mei"),
			date("data_exclusao_mei"),
		},
		PrimaryKey: []string{"cnpj_basico"},
	},
}

// TableFor returns the target table of a classification.
func TableFor(class Classification) (Table, bool) {
	for _, t := range Catalog {
		if t.Classification == class {
			return t, true
		}
	}
	return Table{}, false
}

func TableByName(name string) (Table, bool) {
	for _, t := range Catalog {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// TargetTableNames lists every table name of the catalogue in dependency order.
func TargetTableNames() []string {
	names := make([]string, 0, len(Catalog))
	for _, t := range Catalog {
		names = append(names, t.Name)
	}
	return names
}
