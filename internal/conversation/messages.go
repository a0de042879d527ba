package conversation

import (
	"fmt"
	"strings"

	"github.com/ent0n29/recruiter/internal/catalog"
)

const (
	ReplyWelcome = "Olá! Bem-vindo ao RH da empresa!\n" +
		"Escolha uma opção:\n" +
		"1. Já estou no processo seletivo\n" +
		"2. Quero me candidatar a uma vaga"
	ReplyReturning        = "Que bom te ver de volta! Logo alguém do RH entrará em contato com você."
	ReplyAskName          = "Qual o seu nome?"
	ReplyInvalidOption    = "Opção inválida. Escolha 1 ou 2."
	ReplyNoPostings       = "Não temos vagas disponíveis no momento. Tente novamente mais tarde."
	ReplyPostingNotFound  = "Vaga não encontrada. Envie o número correto."
	ReplyAskResume        = "Envie seu currículo (PDF ou imagem) para continuar."
	ReplyDeclined         = "Ok! Se precisar, estamos à disposição."
	ReplyTooManyAttempts  = "Você excedeu o número de tentativas. Iniciando o processo novamente."
	ReplyInvalidAnswer    = "Resposta inválida. Por favor, responda com Sim ou Não."
	ReplyResumeReceived   = "Currículo recebido! Seu processo seletivo foi iniciado."
	ReplyResumeFailed     = "Erro ao processar seu currículo. Tente novamente mais tarde."
	postingListHeader     = "Essas são as vagas disponíveis:\n"
	postingListFooter     = "Escolha o número da vaga que deseja se candidatar."
	postingConfirmPattern = "Descrição da vaga *%s*:\n%s\n\nDeseja participar dessa vaga? (Sim/Não)"
)

// PostingList renders every posting as "{id}. {title}" followed by the
// selection prompt.
func PostingList(postings []catalog.JobPosting) string {
	var b strings.Builder
	b.WriteString(postingListHeader)
	for _, p := range postings {
		fmt.Fprintf(&b, "%s. %s\n", p.ID, p.Title)
	}
	b.WriteString(postingListFooter)
	return b.String()
}

func PostingConfirmation(p catalog.JobPosting) string {
	return fmt.Sprintf(postingConfirmPattern, p.Title, p.Description)
}
