package easily

// Shared select list. The service code is derived in Go from the letter
// form name, see ServiceCode.
const letterColumns = `
    year(s2.sej_date_sortie) AS annee,
    DateName(Month, s2.sej_date_sortie) AS mois,
    datediff(day, s2.sej_date_sortie, date_min_val) AS LL_J0,
    CASE
        WHEN s1.sej_date_entree >= ven_admission THEN datediff(day, s1.sej_date_entree, s2.sej_date_sortie)
        WHEN s1.sej_date_entree < ven_admission THEN datediff(day, ven_admission, s2.sej_date_sortie)
    END AS nuit_1,
    p.pat_ipp AS pat_IPP,
    p.pat_date_deces,
    v.ven_id,
    f.fiche_id,
    s1.sej_date_entree,
    s1.sej_uf_medicale_code,
    s3.date_der AS sej_date_der_entree,
    s2.sej_date_sortie,
    s2.sej_uf_medicale_code AS uf_der_pass,
    cr.cr_libelle_long AS cr_der_sej,
    CASE WHEN f.fic_venue IS NULL THEN 0 ELSE v.ven_numero END AS Num_Venue,
    v.ven_numero AS ven_theo,
    cr3.cr_libelle_long AS CR_courrier,
    dfs.fos_libelle AS Type_courrier,
    ds.dos_libelle_court AS Dos_Spe_ESL,
    cr4.cr_libelle_long AS cr_specialite,
    f.fic_date_creation,
    f.fic_date_modification,
    fhs2.date_min_val,
    EDES.dest_diffusion_date AS date_diffusion,
    EDES.st_id AS statut_envoi_id`

const letterFilters = `
    AND date_min_val >= DateAdd(Day, -1, Cast(s3.date_der AS date))
    AND date_min_val <= DateAdd(Day, 5, Cast(s2.sej_date_sortie AS date))
    AND (
        CASE
            WHEN s1.sej_date_entree >= ven_admission THEN datediff(day, s1.sej_date_entree, s2.sej_date_sortie)
            WHEN s1.sej_date_entree < ven_admission THEN datediff(day, ven_admission, s2.sej_date_sortie)
        END
    ) >= 1
    AND (
        cr.cr_libelle_long = cr3.cr_libelle_long
        OR cr.cr_libelle_long = cr4.cr_libelle_long
        OR (cr.cr_libelle_long = 'NEUROCHIRURGIE' AND ds.dos_libelle_court = 'NRDT Foch')
        OR (cr.cr_libelle_long = 'ANESTHESIE' AND ds.dos_libelle_court = 'Obstétrique')
    )
    AND ((fo.type_document_code = '00209') OR (fo.type_document_code = '00082' AND s2.sej_uf_medicale_code IN ('290A', '294U')))
    AND (p.pat_date_deces IS NULL OR Cast(p.pat_date_deces AS date) > Cast(s2.sej_date_sortie AS date))`

const validationJoin = `
    LEFT JOIN (
        SELECT fhs2.fiche_id, Min(fhs2.fic_date_statut_validation) AS date_min_val
        FROM DOMINHO.dominho.FICHE_HISTORIQUE_STATUT fhs2
        WHERE fhs2.fic_statut_validation_id = 3
        GROUP BY fhs2.fiche_id
    ) AS fhs2 ON f.fiche_id = fhs2.fiche_id`

const specialtyJoins = `
    LEFT JOIN dominho.dominho.DOSSIER_SPECIALITE ds ON ds.dossier_specialite_id = f.dossier_specialite_id
    LEFT JOIN dominho.dominho.DOSSIER_SPECIALITE_SPECIALITE dss ON dss.dossier_specialite_id = ds.dossier_specialite_id
    LEFT JOIN dominho.dominho.CENTRE_RESPONSABILITE_SPECIALITE crs ON crs.specialite_code = dss.specialite_code
    LEFT JOIN noyau.coeur.CENTRE_RESPONSABILITE cr4 ON cr4.cr_code = crs.centre_responsabilite_code`

const mailboxJoins = `
    LEFT JOIN BOITE_ENVOI.BOITE_ENVOI.DOCUMENT EDOC ON EDOC.document_id = f.document_id
    LEFT JOIN BOITE_ENVOI.BOITE_ENVOI.DESTINATAIRE EDES ON EDES.doc_id = EDOC.doc_id`

// lettersWithStay selects letters attached to a stay. %s is the selection predicate.
const lettersWithStay = `
SELECT DISTINCT TOP 5000` + letterColumns + `
FROM
    NOYAU.patient.VENUE v
    LEFT JOIN NOYAU.patient.SEJOUR s1 ON s1.ven_id = v.ven_id
        AND v.ven_supprime != 1 AND s1.sej_numero = '1' AND ven_type IN (1, 8)
    LEFT JOIN NOYAU.patient.SEJOUR s2 ON s2.ven_id = v.ven_id
        AND v.ven_supprime != 1 AND s2.sej_est_dernier_sejour = 1
    LEFT JOIN (
        SELECT s.ven_id, MIN(s.sej_date_entree) AS date_der, s.sej_uf_medicale_code
        FROM NOYAU.patient.SEJOUR s
        INNER JOIN NOYAU.patient.SEJOUR s2 ON s.sej_uf_medicale_code = s2.sej_uf_medicale_code
            AND s.ven_id = s2.ven_id AND s2.sej_est_dernier_sejour = 1
        GROUP BY s.ven_id, s.sej_uf_medicale_code
    ) AS s3 ON s3.ven_id = s2.ven_id AND s3.sej_uf_medicale_code = s2.sej_uf_medicale_code
    LEFT JOIN NOYAU.coeur.Uf uf ON s2.sej_uf_medicale_code = uf.uf_code
    INNER JOIN NOYAU.coeur.CENTRE_RESPONSABILITE cr ON cr.cr_id = uf.fk_cr_id
    LEFT JOIN DOMINHO.dominho.FICHE f ON f.fic_venue = s2.ven_id AND f.fic_suppr = 0
    LEFT JOIN NOYAU.coeur.CENTRE_RESPONSABILITE cr3 ON cr3.cr_code = f.centre_responsabilite_code
    INNER JOIN NOYAU.patient.patient p ON p.pat_id = f.patient_id` + validationJoin + `
    INNER JOIN DOMINHO.dominho.FORMULAIRE_SELECTION dfs ON f.formulaire_selection_id = dfs.formulaire_selection_id
        AND dfs.fos_libelle NOT LIKE '%%HDJ%%' AND dfs.fos_libelle NOT LIKE '%%extraction%%'
    LEFT JOIN dominho.dominho.FORMULAIRE fo ON dfs.formulaire_id = fo.formulaire_id
        AND fo.type_document_code IN ('00209', '00082') AND for_courrier = 1` + specialtyJoins + mailboxJoins + `
WHERE
    %s` + letterFilters

// lettersWithoutStay selects letters filed on the patient without a stay link.
const lettersWithoutStay = `
SELECT DISTINCT TOP 5000` + letterColumns + `
FROM
    NOYAU.patient.patient p
    LEFT JOIN DOMINHO.dominho.FICHE f ON p.pat_id = f.patient_id AND f.fic_venue IS NULL AND f.fic_suppr = 0
    INNER JOIN NOYAU.coeur.CENTRE_RESPONSABILITE cr3 ON cr3.cr_code = f.centre_responsabilite_code` + specialtyJoins + validationJoin + `
    INNER JOIN DOMINHO.dominho.FORMULAIRE_SELECTION dfs ON f.formulaire_selection_id = dfs.formulaire_selection_id
        AND dfs.fos_libelle NOT LIKE '%%HDJ%%' AND dfs.fos_libelle NOT LIKE '%%extraction%%'
    INNER JOIN dominho.dominho.FORMULAIRE fo ON dfs.formulaire_id = fo.formulaire_id
        AND fo.type_document_code IN ('00209', '00082') AND for_courrier = 1
    LEFT JOIN NOYAU.patient.VENUE v ON p.pat_id = v.pat_id AND v.pat_id = f.patient_id
        AND v.ven_supprime != 1 AND ven_type IN (1)
    LEFT JOIN NOYAU.patient.SEJOUR s1 ON s1.ven_id = v.ven_id AND s1.sej_numero = '1'
    LEFT JOIN NOYAU.patient.SEJOUR s2 ON s2.ven_id = v.ven_id AND s2.sej_est_dernier_sejour = 1
    LEFT JOIN (
        SELECT s.ven_id, MIN(s.sej_date_entree) AS date_der, s.sej_uf_medicale_code
        FROM NOYAU.patient.SEJOUR s
        INNER JOIN NOYAU.patient.SEJOUR s2 ON s.ven_id = s2.ven_id
            AND s.sej_uf_medicale_code = s2.sej_uf_medicale_code AND s2.sej_est_dernier_sejour = 1
        GROUP BY s.ven_id, s.sej_uf_medicale_code
    ) AS s3 ON s3.ven_id = s2.ven_id
    LEFT JOIN NOYAU.coeur.Uf uf ON uf.uf_code = s2.sej_uf_medicale_code
    INNER JOIN NOYAU.coeur.CENTRE_RESPONSABILITE cr ON uf.fk_cr_id = cr.cr_id` + mailboxJoins + `
WHERE
    %s
    AND date_min_val IS NOT NULL` + letterFilters

const (
	venuePredicate = `CASE WHEN f.fic_venue IS NULL THEN 0 ELSE v.ven_numero END IN (?)`
	// Discharge dates are datetimes; the end bound is the day after the last day.
	dischargePredicate = `s2.sej_date_sortie >= ? AND s2.sej_date_sortie < ?`
)
